package msp

// Command identifiers. Values up to 254 are valid in both frame versions.
const (
	MSPAPIVersion            uint16 = 1
	MSPFCVariant             uint16 = 2
	MSPFCVersion             uint16 = 3
	MSPBatteryConfig         uint16 = 32
	MSPSetBatteryConfig      uint16 = 33
	MSPFeatureConfig         uint16 = 36
	MSPSetFeatureConfig      uint16 = 37
	MSPCurrentMeterConfig    uint16 = 40
	MSPSetCurrentMeterConfig uint16 = 41
	MSPVoltageMeterConfig    uint16 = 56
	MSPSetVoltageMeterConfig uint16 = 57
	MSPReboot                uint16 = 68
	MSPAnalog                uint16 = 110
	MSPEepromWrite           uint16 = 250

	MSP2CommonSetting    uint16 = 0x1003
	MSP2CommonSetSetting uint16 = 0x1004
	MSP2INAVAnalog       uint16 = 0x2002
)

// FC variant identifiers returned by MSPFCVariant.
const (
	VariantBetaflight = "BTFL"
	VariantINAV       = "INAV"
)
