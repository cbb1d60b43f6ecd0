package core

// itoa converts an integer to a string without the fmt package
func itoa(n int) string {
	if n == 0 {
		return "0"
	}

	var buf [20]byte
	pos := len(buf)
	negative := n < 0
	u := uint64(n)
	if negative {
		u = uint64(-n)
	}

	for u > 0 {
		pos--
		buf[pos] = byte('0' + u%10)
		u /= 10
	}
	if negative {
		pos--
		buf[pos] = '-'
	}
	return string(buf[pos:])
}

// ftoa formats v with three decimals, enough for gains, duty and volts
func ftoa(v float32) string {
	negative := v < 0
	if negative {
		v = -v
	}
	milli := int(v*1000 + 0.5)
	frac := milli % 1000
	s := itoa(milli/1000) + "." + string([]byte{
		byte('0' + frac/100),
		byte('0' + frac/10%10),
		byte('0' + frac%10),
	})
	if negative {
		return "-" + s
	}
	return s
}
