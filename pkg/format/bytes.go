package format

import (
	"fmt"
	"strconv"
)

// Bytes renders a byte count the way the phone's data usage screen does:
// powers of 1024 labelled KB, MB and so on (not KiB), one decimal place.
// The unit only steps up once the integer part reaches 1024, so 1048575
// is "1024.0 KB" rather than "1.0 MB".
func Bytes(n uint64) string {
	v, unit := scale(n, 1024, "KMGTPE")
	if unit == 0 {
		return strconv.FormatUint(n, 10) + " B"
	}
	return fmt.Sprintf("%.1f %cB", v, unit)
}

// Number abbreviates packet counts with decimal suffixes, e.g. 1500 -> "1.5K".
func Number(n uint64) string {
	v, unit := scale(n, 1000, "KMG")
	if unit == 0 {
		return strconv.FormatUint(n, 10)
	}
	return fmt.Sprintf("%.1f%c", v, unit)
}

// scale divides n by the largest power of base that keeps the integer part
// at or above 1, capped at the last unit. unit is 0 when n < base.
func scale(n, base uint64, units string) (float64, byte) {
	if n < base {
		return float64(n), 0
	}
	div, exp := base, 0
	for n/div >= base && exp < len(units)-1 {
		div *= base
		exp++
	}
	return float64(n) / float64(div), units[exp]
}
