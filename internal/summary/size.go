package summary

import "fmt"

var sizeUnits = [...]string{"bytes", "KB", "MB", "GB", "TB"}

// FormatMemorySize renders a byte count with 1024-based units up to TB.
// Values below 1 KB are printed as whole bytes.
func FormatMemorySize(n uint64) string {
	if n < 1024 {
		return fmt.Sprintf("%d bytes", n)
	}
	i := 0
	div := uint64(1)
	for v := n; v >= 1024 && i < len(sizeUnits)-1; v /= 1024 {
		i++
		div *= 1024
	}
	return fmt.Sprintf("%.1f %s", float64(n)/float64(div), sizeUnits[i])
}
