package util

import (
	"fmt"

	qrcode "github.com/skip2/go-qrcode"
)

// PrintTerminalQR renders value as a terminal QR code. Used by serve for the
// server URL and by `user token` for API tokens; output is cosmetic, so
// encoding failures are silently skipped.
func PrintTerminalQR(value string) {
	qr, err := qrcode.New(value, qrcode.Medium)
	if err != nil {
		return
	}
	fmt.Println(qr.ToSmallString(false))
}
