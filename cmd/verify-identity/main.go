// Command verify-identity renders a static public key's fingerprint as a
// QR code so two operators can compare a channel's peer identity out of
// band (e.g. by scanning each other's screens), the same kind of manual
// verification step Signal/WhatsApp-style "safety numbers" use.
package main

import (
	"crypto/sha256"
	"encoding/hex"
	"flag"
	"fmt"
	"log"

	qrcode "github.com/skip2/go-qrcode"
)

func main() {
	hexKey := flag.String("key", "", "hex-encoded static public key (32 bytes)")
	out := flag.String("out", "identity.png", "output PNG path")
	flag.Parse()

	if *hexKey == "" {
		log.Fatal("-key is required: the hex-encoded static public key to verify")
	}

	raw, err := hex.DecodeString(*hexKey)
	if err != nil || len(raw) != 32 {
		log.Fatalf("invalid -key: expected 32 bytes of hex, got %q", *hexKey)
	}

	fingerprint := sha256.Sum256(raw)
	encoded := hex.EncodeToString(fingerprint[:])
	fmt.Printf("Fingerprint: %s\n", encoded)

	if err := qrcode.WriteFile(encoded, qrcode.Medium, 256, *out); err != nil {
		log.Fatalf("Failed to write QR code: %v", err)
	}
	fmt.Printf("Wrote %s — compare this code with your peer out of band before trusting their identity certificate.\n", *out)
}
