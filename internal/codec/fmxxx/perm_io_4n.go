package fmxxx

// 4-byte permanent IO elements.
const (
	ActiveGsmOPe   ID = 241
	TripOdometer   ID = 199
	TotalOd        ID = 16
	FuelUsedGPS    ID = 12
	DallasTemp1    ID = 72
	DallasTemp2    ID = 73
	DallasTemp3    ID = 74
	DallasTemp4    ID = 75
	PulseCountDin1 ID = 4
	PulseCountDin2 ID = 5
	UMTSLTECelID   ID = 636
	DriverCardID   ID = 406
	DvrCrdplcIssue ID = 408
	ConnQuality    ID = 1148
)
