package protocol

import "sync/atomic"

// Reflected polynomials. Both checksums start from zero and apply no final xor.
const (
	CRC8Poly  = 0x8C   // CRC-8/MAXIM, reflected 0x31
	CRC16Poly = 0xA001 // CRC-16/ARC, reflected 0x8005
)

var (
	crc8Table  atomic.Pointer[[256]uint8]
	crc16Table atomic.Pointer[[256]uint16]
)

// InitChecksums builds the lookup tables up front.
// Targets call it during boot so the first frame never pays for table construction
// inside the receive interrupt. Calling it is optional; the tables are built on first use.
func InitChecksums() {
	crc8Lookup()
	crc16Lookup()
}

// crc8Lookup returns the CRC8 table, building it on first use.
// Two callers racing here both build identical tables and only one is published.
func crc8Lookup() *[256]uint8 {
	if t := crc8Table.Load(); t != nil {
		return t
	}
	t := new([256]uint8)
	for i := range t {
		c := uint8(i)
		for bit := 0; bit < 8; bit++ {
			if c&1 != 0 {
				c = c>>1 ^ CRC8Poly
			} else {
				c >>= 1
			}
		}
		t[i] = c
	}
	crc8Table.CompareAndSwap(nil, t)
	return crc8Table.Load()
}

func crc16Lookup() *[256]uint16 {
	if t := crc16Table.Load(); t != nil {
		return t
	}
	t := new([256]uint16)
	for i := range t {
		c := uint16(i)
		for bit := 0; bit < 8; bit++ {
			if c&1 != 0 {
				c = c>>1 ^ CRC16Poly
			} else {
				c >>= 1
			}
		}
		t[i] = c
	}
	crc16Table.CompareAndSwap(nil, t)
	return crc16Table.Load()
}

// CRC8 calculates the frame checksum over data
func CRC8(data []byte) uint8 {
	t := crc8Lookup()
	crc := uint8(0)
	for _, b := range data {
		crc = t[crc^b]
	}
	return crc
}

// ValidateCRC8 reports whether sum is the checksum of data
func ValidateCRC8(data []byte, sum uint8) bool {
	return CRC8(data) == sum
}

// CRC16 calculates the checksum used by the first-generation 16-byte frame
func CRC16(data []byte) uint16 {
	t := crc16Lookup()
	crc := uint16(0)
	for _, b := range data {
		crc = crc>>8 ^ t[uint8(crc)^b]
	}
	return crc
}
