package models

import (
	"crypto/rand"
	"encoding/base32"
	"fmt"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/hotp"
)

// otpDigits is the wire length of both startOtp and stopOtp (spec §3:
// "each a 4-digit string").
const otpDigits = otp.Digits(4)

// GenerateRidePin mints one 4-digit decimal OTP from a cryptographically
// strong uniform source (spec §3 I5, §4.2). Rather than hand-rolling a
// crypto/rand modulo draw, it derives the code the same way a TOTP/HOTP
// secret would: a fresh random HMAC key consumed at counter 0, which is
// exactly as uniform over the digit space and keeps OTP minting on the
// same ecosystem primitive used elsewhere for two-factor codes.
func GenerateRidePin() (string, error) {
	secret := make([]byte, 20)
	if _, err := rand.Read(secret); err != nil {
		return "", fmt.Errorf("models: generate ride pin: %w", err)
	}
	encoded := base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(secret)

	code, err := hotp.GenerateCodeCustom(encoded, 0, hotp.ValidateOpts{
		Digits:    otpDigits,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		return "", fmt.Errorf("models: generate ride pin: %w", err)
	}
	return code, nil
}

// GenerateRidePinPair mints the independent startOtp/stopOtp pair for a
// newly created ride.
func GenerateRidePinPair() (startOtp, stopOtp string, err error) {
	startOtp, err = GenerateRidePin()
	if err != nil {
		return "", "", err
	}
	stopOtp, err = GenerateRidePin()
	if err != nil {
		return "", "", err
	}
	return startOtp, stopOtp, nil
}
