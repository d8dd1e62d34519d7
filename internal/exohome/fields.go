package exohome

// Device type identifiers reported in profile.esh.device_id.
const (
	DeviceTypeClimate        = 1
	DeviceTypeWashingMachine = 3
	DeviceTypeDehumidifier   = 4
	DeviceTypeAirPurifier    = 8
	DeviceTypeFan            = 15
)

// Climate field codes.
//
// A field code is a short vendor-defined key identifying one readable or
// controllable device attribute. The same code can mean different things
// on different device types, so lookups are always (device type, code).
const (
	ClimatePower              = "H00"
	ClimateOperatingMode      = "H01"
	ClimateFanSpeed           = "H02"
	ClimateTargetTemperature  = "H03"
	ClimateTemperatureIndoor  = "H04"
	ClimateSleepMode          = "H05"
	ClimateFuzzyMode          = "H07"
	ClimatePicopureMode       = "H08"
	ClimateTimerOn            = "H0B"
	ClimateTimerOff           = "H0C"
	ClimateSwingVertical      = "H0E"
	ClimateSwingVerticalLevel = "H0F"
	ClimateSwingHorizontal    = "H10"
	ClimateSwingHorizLevel    = "H11"
	ClimateSetHumidity        = "H13"
	ClimateHumidityIndoor     = "H14"
	ClimateErrorCode          = "H15"
	ClimateAntiMildew         = "H17"
	ClimateAutoClean          = "H18"
	ClimateActivity           = "H19"
	ClimateBoost              = "H1A"
	ClimateEco                = "H1B"
	ClimateLimitedPower       = "H1C"
	ClimateControllerMode     = "H1D"
	ClimateBuzzer             = "H1E"
	ClimateTemperatureOutdoor = "H21"
	ClimateOperatingCurrent   = "H24"
	ClimateOperatingPower     = "H27"
	ClimateEnergy             = "H28"
	ClimateReserved           = "H7F"
)

// Climate value bounds.
const (
	ClimateMinimumTemperature = 16
	ClimateMaximumTemperature = 30
	ClimateOnTimerMax         = 1440
	ClimateOffTimerMax        = 1440
)

// Fan field codes.
const (
	FanPower             = "H00"
	FanOperatingMode     = "H01"
	FanSpeed             = "H02"
	FanTemperatureIndoor = "H03"
	FanOscillate         = "H05"
)

// Air purifier field codes.
const (
	AirPurifierOperatingMode     = "H01"
	AirPurifierAirQuality        = "H04"
	AirPurifierResetFilterNotify = "H05"
	AirPurifierPicopure          = "H07"
	AirPurifierBuzzer            = "H08"
	AirPurifierPM25              = "H61"
	AirPurifierLight             = "H62"
	AirPurifierRunningTime       = "H63"
	AirPurifierReserved          = "H7F"
)

// fieldNames maps (device type, field code) to a human-readable name.
// Codes not present here fall back to FieldName's unknown path.
var fieldNames = map[int]map[string]string{
	DeviceTypeClimate: {
		ClimatePower:              "power",
		ClimateOperatingMode:      "operating_mode",
		ClimateFanSpeed:           "fan_speed",
		ClimateTargetTemperature:  "target_temperature",
		ClimateTemperatureIndoor:  "temperature_indoor",
		ClimateSleepMode:          "sleep_mode",
		ClimateFuzzyMode:          "fuzzy_mode",
		ClimatePicopureMode:       "picopure_mode",
		ClimateTimerOn:            "timer_on",
		ClimateTimerOff:           "timer_off",
		ClimateSwingVertical:      "swing_vertical",
		ClimateSwingVerticalLevel: "swing_vertical_level",
		ClimateSwingHorizontal:    "swing_horizontal",
		ClimateSwingHorizLevel:    "swing_horizontal_level",
		ClimateSetHumidity:        "set_humidity",
		ClimateHumidityIndoor:     "humidity_indoor",
		ClimateErrorCode:          "error_code",
		ClimateAntiMildew:         "anti_mildew",
		ClimateAutoClean:          "auto_clean",
		ClimateActivity:           "activity",
		ClimateBoost:              "boost",
		ClimateEco:                "eco",
		ClimateLimitedPower:       "limited_power",
		ClimateControllerMode:     "controller_mode",
		ClimateBuzzer:             "buzzer",
		ClimateTemperatureOutdoor: "temperature_outdoor",
		ClimateOperatingCurrent:   "operating_current",
		ClimateOperatingPower:     "operating_power",
		ClimateEnergy:             "energy",
	},
	DeviceTypeFan: {
		FanPower:             "power",
		FanOperatingMode:     "operating_mode",
		FanSpeed:             "fan_speed",
		FanTemperatureIndoor: "temperature_indoor",
		FanOscillate:         "oscillate",
	},
	DeviceTypeAirPurifier: {
		AirPurifierOperatingMode:     "operating_mode",
		AirPurifierAirQuality:        "air_quality",
		AirPurifierResetFilterNotify: "reset_filter_notify",
		AirPurifierPicopure:          "picopure",
		AirPurifierBuzzer:            "buzzer",
		AirPurifierPM25:              "pm25",
		AirPurifierLight:             "light",
		AirPurifierRunningTime:       "running_time",
	},
}

// FieldName returns the human-readable name for a field code on the
// given device type. Unknown codes (or unknown device types) return the
// raw code unchanged, so unrecognised fields stay visible downstream
// rather than being dropped.
func FieldName(deviceType int, code string) string {
	if names, ok := fieldNames[deviceType]; ok {
		if name, ok := names[code]; ok {
			return name
		}
	}
	return code
}

// DeviceTypeName returns a short name for a device type identifier.
// Unknown types return "unknown".
func DeviceTypeName(deviceType int) string {
	switch deviceType {
	case DeviceTypeClimate:
		return "climate"
	case DeviceTypeWashingMachine:
		return "washing_machine"
	case DeviceTypeDehumidifier:
		return "dehumidifier"
	case DeviceTypeAirPurifier:
		return "airpurifier"
	case DeviceTypeFan:
		return "fan"
	default:
		return "unknown"
	}
}

// TemperatureRangeField reports whether a field's range value encodes a
// temperature window (max*100 + min) rather than a bitmask of discrete
// values. Only the climate target temperature uses this encoding.
func TemperatureRangeField(deviceType int, code string) bool {
	return deviceType == DeviceTypeClimate && code == ClimateTargetTemperature
}

// KnownField reports whether the field code is recognised for the
// given device type.
func KnownField(deviceType int, code string) bool {
	names, ok := fieldNames[deviceType]
	if !ok {
		return false
	}
	_, ok = names[code]
	return ok
}
