package util

import (
	"crypto/rand"
	"encoding/hex"
	"strings"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

func NewID(prefix string) string {
	bytes := make([]byte, 16)
	_, _ = rand.Read(bytes)
	if prefix == "" {
		return hex.EncodeToString(bytes)
	}
	return prefix + "_" + hex.EncodeToString(bytes)
}

// NewObjectID returns a fresh 24-hex identifier in ObjectID layout, whichever backend stores it.
func NewObjectID() string {
	return primitive.NewObjectID().Hex()
}

// IsObjectID reports whether value is a well-formed 24-character lowercase hex identifier.
func IsObjectID(value string) bool {
	if value != strings.ToLower(value) {
		return false
	}
	_, err := primitive.ObjectIDFromHex(value)
	return err == nil
}
