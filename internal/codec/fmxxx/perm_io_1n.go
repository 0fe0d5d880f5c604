package fmxxx

// 1-byte permanent IO elements.
const (
	Ignition       ID = 239
	Movement       ID = 240
	DataMode       ID = 80
	GSMSignal      ID = 21
	SleepMode      ID = 200
	GnssStatus     ID = 69
	DIn1           ID = 1
	DOut1          ID = 179
	SDStatus       ID = 10
	DIn2           ID = 2
	DIn3           ID = 3
	DOut2          ID = 180
	LLS1Temp       ID = 202
	LLS2Temp       ID = 204
	LLS3Temp       ID = 211
	LLS4Temp       ID = 213
	LLS5Temp       ID = 215
	BattLevel      ID = 113
	NetworkType    ID = 237
	BTStatus       ID = 263
	InstantMov     ID = 303
	UL20202SensSts ID = 483
	DOut3          ID = 380
	GNDSense       ID = 381
	Dvrcardlcstp   ID = 404
	DriverGender   ID = 405
	DrvrcardExpDt  ID = 407
	DriverStsEvt   ID = 409
	BLEBatt1       ID = 29
	MSP500Spdsen   ID = 502
	WakeReason     ID = 637
)
