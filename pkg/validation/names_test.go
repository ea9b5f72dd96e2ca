// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package validation

import (
	"strings"
	"testing"
)

func TestValidateAttributeName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"simple", "damage", false},
		{"underscore", "sign_type", false},
		{"with digit", "hand2", false},
		{"max length", "a" + strings.Repeat("b", 63), false},

		{"empty", "", true},
		{"uppercase", "Damage", true},
		{"starts with digit", "2hand", true},
		{"starts with underscore", "_x", true},
		{"space", "sign type", true},
		{"css injection", "x;color:red", true},
		{"too long", "a" + strings.Repeat("b", 64), true},
		{"unicode", "alephא", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateAttributeName(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateAttributeName(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestSanitizeAttributeName(t *testing.T) {
	tests := []struct {
		input   string
		want    string
		wantErr bool
	}{
		{"damage", "damage", false},
		{"  Sign Type ", "sign_type", false},
		{"READING  ORDER", "reading_order", false},
		{"", "", true},
		{"%%", "", true},
	}

	for _, tt := range tests {
		got, err := SanitizeAttributeName(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("SanitizeAttributeName(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("SanitizeAttributeName(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

type sample struct {
	Port    int    `validate:"gte=1,lte=65535"`
	Backend string `validate:"oneof=badger sqlite"`
	Name    string `validate:"omitempty,attrname"`
}

func TestStruct(t *testing.T) {
	if err := Struct(sample{Port: 8080, Backend: "badger", Name: "damage"}); err != nil {
		t.Fatalf("valid struct rejected: %v", err)
	}

	err := Struct(sample{Port: 0, Backend: "mysql", Name: "Bad Name"})
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"sample.Port: gte=1", "sample.Backend: oneof=badger sqlite", "sample.Name: attrname"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %q", err, want)
		}
	}
}
