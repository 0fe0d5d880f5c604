// Package fmxxx holds the IO element identifiers reported by FMB/FMC trackers.
package fmxxx

import "strconv"

// ID is an AVL IO element identifier.
type ID uint16

var names = map[ID]string{
	Ignition:       "ignition",
	Movement:       "movement",
	DataMode:       "data_mode",
	GSMSignal:      "gsm_signal",
	SleepMode:      "sleep_mode",
	GnssStatus:     "gnss_status",
	DIn1:           "digital_input_1",
	DOut1:          "digital_output_1",
	SDStatus:       "sd_status",
	DIn2:           "digital_input_2",
	DIn3:           "digital_input_3",
	DOut2:          "digital_output_2",
	LLS1Temp:       "lls1_temperature",
	LLS2Temp:       "lls2_temperature",
	LLS3Temp:       "lls3_temperature",
	LLS4Temp:       "lls4_temperature",
	LLS5Temp:       "lls5_temperature",
	BattLevel:      "battery_level",
	NetworkType:    "network_type",
	BTStatus:       "bt_status",
	InstantMov:     "instant_movement",
	UL20202SensSts: "ul202_2_sensor_status",
	DOut3:          "digital_output_3",
	GNDSense:       "ground_sense",
	Dvrcardlcstp:   "driver_card_license_type",
	DriverGender:   "driver_gender",
	DrvrcardExpDt:  "driver_card_expiration_date",
	DriverStsEvt:   "driver_status_event",
	BLEBatt1:       "ble_battery_1",
	MSP500Spdsen:   "msp500_speed_sensor",
	WakeReason:     "wake_reason",

	GnssPDOP:     "gnss_pdop",
	GnssHDOP:     "gnss_hdop",
	ExtVolt:      "external_voltage",
	VehicleSpeed: "speed",
	GsmCellId:    "gsm_cell_id",
	GsmAreCode:   "gsm_area_code",
	BatteryVolt:  "battery_voltage",
	BattCurrent:  "battery_current",
	AIn1:         "analog_input_1",
	FuelRateGPS:  "fuel_rate_gps",
	AxisX:        "axis_x",
	AxisY:        "axis_y",
	AxisZ:        "axis_z",
	AIn2:         "analog_input_2",
	LLS1FuelLvl:  "lls1_fuel_level",
	LLS2FuelLvl:  "lls2_fuel_level",
	LLS3FuelLvl:  "lls3_fuel_level",
	LLS4FuelLvl:  "lls4_fuel_level",
	LLS5FuelLvl:  "lls5_fuel_level",
	EcoScore:     "eco_score",
	UL20202SFl:   "ul202_2_fuel_level",
	AINSpeed:     "ain_speed",
	BLETemp1:     "ble_temperature_1",
	BLEHumidity1: "ble_humidity_1",

	ActiveGsmOPe:   "active_gsm_operator",
	TripOdometer:   "trip_odometer",
	TotalOd:        "total_odometer",
	FuelUsedGPS:    "fuel_used_gps",
	DallasTemp1:    "dallas_temperature_1",
	DallasTemp2:    "dallas_temperature_2",
	DallasTemp3:    "dallas_temperature_3",
	DallasTemp4:    "dallas_temperature_4",
	PulseCountDin1: "pulse_counter_din1",
	PulseCountDin2: "pulse_counter_din2",
	UMTSLTECelID:   "umts_lte_cell_id",
	DriverCardID:   "driver_card_id",
	DvrCrdplcIssue: "driver_card_place_of_issue",
	ConnQuality:    "connectivity_quality",

	ICCID1:    "iccid1",
	ICCID2:    "iccid2",
	IButton:   "ibutton",
	ICCIDPt1:  "iccid_part_1",
	ICCIDPt2:  "iccid_part_2",
	ICCIDPt3:  "iccid_part_3",
	BeaconIDs: "beacon",
}

// Lookup resolves a known identifier.
func Lookup(id uint16) (string, bool) {
	n, ok := names[ID(id)]
	return n, ok
}

// Name resolves id, falling back to its decimal form so unknown elements keep a label.
func Name(id uint16) string {
	if n, ok := names[ID(id)]; ok {
		return n
	}
	return strconv.Itoa(int(id))
}
