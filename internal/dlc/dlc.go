// Package dlc holds the CAN FD data length code lookup tables. These tables
// are the only place in the library where payload sizes and DLC values are
// converted.
package dlc

// Valid CAN FD payload lengths indexed by DLC
var ToLength = [16]uint8{0, 1, 2, 3, 4, 5, 6, 7, 8, 12, 16, 20, 24, 32, 48, 64}

// DLC indexed by payload length, rounding up to the next valid length
var FromLength = [65]uint8{
	0, 1, 2, 3, 4, 5, 6, 7, 8, // 0-8
	9, 9, 9, 9, // 9-12
	10, 10, 10, 10, // 13-16
	11, 11, 11, 11, // 17-20
	12, 12, 12, 12, // 21-24
	13, 13, 13, 13, 13, 13, 13, 13, // 25-32
	14, 14, 14, 14, 14, 14, 14, 14, 14, 14, 14, 14, 14, 14, 14, 14, // 33-48
	15, 15, 15, 15, 15, 15, 15, 15, 15, 15, 15, 15, 15, 15, 15, 15, // 49-64
}

// RoundUp returns the smallest valid CAN FD payload length >= size.
// size must not exceed 64.
func RoundUp(size int) int {
	return int(ToLength[FromLength[size]])
}
