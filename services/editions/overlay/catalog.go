// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package overlay

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"github.com/Scripta-Qumranica-Electronica/SQE-API-sub000/services/editions/graph"
)

// AttributeValue is one permitted value of an attribute.
type AttributeValue struct {
	ID          uint64 `json:"id"`
	Value       string `json:"value"`
	Description string `json:"description,omitempty"`
	CSS         string `json:"css,omitempty"`
}

// Attribute is a named dimension such as "sign_type" or "damage".
type Attribute struct {
	ID          uint64           `json:"id"`
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	Editable    bool             `json:"editable"`
	Values      []AttributeValue `json:"values"`
}

// Catalog is the dictionary of attributes defined for one edition.
//
// Thread Safety:
//
//	Not safe for concurrent use. The edition lock guards it.
type Catalog struct {
	attrs map[uint64]Attribute
}

// NewCatalog returns a catalog holding attrs.
func NewCatalog(attrs ...Attribute) (*Catalog, error) {
	c := &Catalog{attrs: make(map[uint64]Attribute, len(attrs))}
	for _, a := range attrs {
		if err := c.Define(a); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Define adds an attribute or replaces the definition with the same id.
//
// Value ids must be unique across the whole catalog, because attachments
// are keyed by value id alone.
func (c *Catalog) Define(a Attribute) error {
	if a.ID == 0 {
		return fmt.Errorf("define attribute: %w: zero attribute id", graph.ErrInvalidInput)
	}
	if strings.TrimSpace(a.Name) == "" {
		return fmt.Errorf("define attribute %d: %w: empty name", a.ID, graph.ErrInvalidInput)
	}

	seen := make(map[uint64]struct{}, len(a.Values))
	for _, v := range a.Values {
		if v.ID == 0 {
			return fmt.Errorf("define attribute %d: %w: zero value id", a.ID, graph.ErrInvalidInput)
		}
		if _, dup := seen[v.ID]; dup {
			return fmt.Errorf("define attribute %d: %w: value %d listed twice", a.ID, graph.ErrInvalidInput, v.ID)
		}
		seen[v.ID] = struct{}{}
		if owner, ok := c.ownerOf(v.ID); ok && owner != a.ID {
			return fmt.Errorf("define attribute %d: %w: value %d belongs to attribute %d",
				a.ID, graph.ErrStructuralConflict, v.ID, owner)
		}
	}

	a.Values = slices.Clone(a.Values)
	c.attrs[a.ID] = a
	return nil
}

// Lookup returns the attribute with id.
func (c *Catalog) Lookup(id uint64) (Attribute, bool) {
	a, ok := c.attrs[id]
	return a, ok
}

// Remove deletes the attribute definition.
func (c *Catalog) Remove(id uint64) error {
	if _, ok := c.attrs[id]; !ok {
		return fmt.Errorf("remove attribute %d: %w", id, graph.ErrNotFound)
	}
	delete(c.attrs, id)
	return nil
}

// CheckValue verifies that valueID is a permitted value of attributeID.
//
// Outputs:
//
//	error - NOT_FOUND for an unknown attribute, INVALID_INPUT when the
//	        value does not belong to it.
func (c *Catalog) CheckValue(attributeID, valueID uint64) error {
	a, ok := c.attrs[attributeID]
	if !ok {
		return fmt.Errorf("attribute %d: %w", attributeID, graph.ErrNotFound)
	}
	if !slices.ContainsFunc(a.Values, func(v AttributeValue) bool { return v.ID == valueID }) {
		return fmt.Errorf("attribute %d: %w: value %d is not permitted", attributeID, graph.ErrInvalidInput, valueID)
	}
	return nil
}

// Attributes returns every definition in ascending id order.
func (c *Catalog) Attributes() []Attribute {
	out := make([]Attribute, 0, len(c.attrs))
	for _, a := range c.attrs {
		out = append(out, a)
	}
	slices.SortFunc(out, func(x, y Attribute) int {
		return cmp.Compare(x.ID, y.ID)
	})
	return out
}

// Clone returns an independent copy.
func (c *Catalog) Clone() *Catalog {
	cc := &Catalog{attrs: make(map[uint64]Attribute, len(c.attrs))}
	for id, a := range c.attrs {
		a.Values = slices.Clone(a.Values)
		cc.attrs[id] = a
	}
	return cc
}

func (c *Catalog) ownerOf(valueID uint64) (uint64, bool) {
	for id, a := range c.attrs {
		if slices.ContainsFunc(a.Values, func(v AttributeValue) bool { return v.ID == valueID }) {
			return id, true
		}
	}
	return 0, false
}
