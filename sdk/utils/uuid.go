package utils

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"time"
)

// GenerateUUIDv7 genera un UUID v7 (ordenable por tiempo).
//
// UUIDv7 usa los primeros 48 bits para timestamp Unix ms,
// seguido de bits random, permitiendo orden cronológico.
// Los intent_id del sistema son UUIDv7 para que el journal
// quede naturalmente ordenado por creación.
//
// Example:
//
//	id := utils.GenerateUUIDv7()
//	// => "01HKQV8Y-9GJ3-7ABC-8DEF-123456789ABC"
func GenerateUUIDv7() string {
	// 1. Timestamp: primeros 48 bits (6 bytes)
	ts := time.Now().UnixMilli()

	// 2. Generar 10 bytes random para el resto del UUID
	randomBytes := make([]byte, 10)
	if _, err := rand.Read(randomBytes); err != nil {
		// Fallback a timestamp si crypto/rand falla
		binary.BigEndian.PutUint64(randomBytes, uint64(time.Now().UnixNano()))
	}

	// 3. Construir el UUID
	// Formato: tttttttt-tttt-7xxx-yxxx-xxxxxxxxxxxx
	uuid := make([]byte, 16)

	binary.BigEndian.PutUint64(uuid[0:8], uint64(ts<<16))
	copy(uuid[6:], randomBytes)

	// Version 7
	uuid[6] = (uuid[6] & 0x0F) | 0x70
	// Variant 10xx
	uuid[8] = (uuid[8] & 0x3F) | 0x80

	return fmt.Sprintf("%08x-%04x-%04x-%04x-%012x",
		binary.BigEndian.Uint32(uuid[0:4]),
		binary.BigEndian.Uint16(uuid[4:6]),
		binary.BigEndian.Uint16(uuid[6:8]),
		binary.BigEndian.Uint16(uuid[8:10]),
		uuid[10:16],
	)
}
