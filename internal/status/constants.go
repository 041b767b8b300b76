// internal/status/constants.go
package status

// Link Status Block layout constants.
// These values define the mirror register map and MUST NOT be configurable.

// ---- BLOCK GEOMETRY ----

// SlotsPerBlock is the fixed number of holding registers in the link status block.
const SlotsPerBlock = 20

// ---- SLOT INDICES ----

// SlotHealthCode holds the PLC link health state.
const SlotHealthCode = 0

// SlotLastErrorCode holds the last PLC end code or link error code.
const SlotLastErrorCode = 1

// SlotSecondsInError holds the duration (in seconds) the link has been in error.
const SlotSecondsInError = 2

// SlotPointsPacked mirrors the five status points as bits 0..4.
const SlotPointsPacked = 3

// ---- RESERVED RANGE ----

// Slots 4-10 are reserved.
const SlotReservedStart = 4
const SlotReservedEnd = 10

// ---- STATION NAME ----

// SlotNameStart is the first slot used for the station name.
const SlotNameStart = 11

// SlotNameSlots is the number of slots reserved for the station name.
const SlotNameSlots = 8

// NameMaxChars is the maximum number of ASCII characters stored for the station name.
const NameMaxChars = 16

// ---- COILS ----

// PointCoils is the number of coils mirroring decoded status points.
const PointCoils = 5

// ---- HEALTH CODES ----

const (
	HealthUnknown uint16 = 0
	HealthOK      uint16 = 1
	HealthError   uint16 = 2
)

// ---- LINK ERROR CODES ----

// Link-side failures use codes outside the MC end-code space.
const (
	ErrCodeConnect uint16 = 0xE001
	ErrCodeTimeout uint16 = 0xE002
	ErrCodeIO      uint16 = 0xE003
)
