package fmxxx

// 2-byte permanent IO elements.
const (
	GnssPDOP     ID = 181
	GnssHDOP     ID = 182
	ExtVolt      ID = 66
	VehicleSpeed ID = 24
	GsmCellId    ID = 205
	GsmAreCode   ID = 206
	BatteryVolt  ID = 67
	BattCurrent  ID = 68
	AIn1         ID = 9
	FuelRateGPS  ID = 13
	AxisX        ID = 17
	AxisY        ID = 18
	AxisZ        ID = 19
	AIn2         ID = 6
	LLS1FuelLvl  ID = 201
	LLS2FuelLvl  ID = 203
	LLS3FuelLvl  ID = 210
	LLS4FuelLvl  ID = 212
	LLS5FuelLvl  ID = 214
	EcoScore     ID = 15 // average amount of events on some distance
	UL20202SFl   ID = 327
	AINSpeed     ID = 329
	BLETemp1     ID = 25
	BLEHumidity1 ID = 86
)
