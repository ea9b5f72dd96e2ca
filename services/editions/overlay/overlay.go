// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package overlay holds the content attached to stream nodes: attribute
// values, commentary and region placements. None of it affects the graph
// structure.
package overlay

import (
	"fmt"
	"slices"
	"time"

	"github.com/Scripta-Qumranica-Electronica/SQE-API-sub000/services/editions/graph"
)

// AttributeAttachment is one attribute value applied to a sign
// interpretation. It is keyed by AttributeValueID within its node.
type AttributeAttachment struct {
	AttributeID      uint64  `json:"attribute_id"`
	AttributeValueID uint64  `json:"attribute_value_id"`
	Sequence         *int    `json:"sequence,omitempty"`
	Commentary       *string `json:"commentary,omitempty"`
}

// RegionPlacement ties a sign interpretation to a polygon on an artefact
// image. WKT is stored as returned by the geometry validator.
type RegionPlacement struct {
	ID         uint64 `json:"id"`
	ArtefactID uint64 `json:"artefact_id"`
	WKT        string `json:"wkt"`
	Repaired   bool   `json:"repaired,omitempty"`
}

// SignInterpretation is the payload of one stream node.
type SignInterpretation struct {
	ID         graph.NodeID          `json:"id"`
	SignID     uint64                `json:"sign_id"`
	Character  string                `json:"character"`
	IsVariant  bool                  `json:"is_variant"`
	Commentary *string               `json:"commentary,omitempty"`
	Attributes []AttributeAttachment `json:"attributes"`
	Regions    []RegionPlacement     `json:"regions"`
	CreatedBy  string                `json:"created_by,omitempty"`
	EditedBy   string                `json:"edited_by,omitempty"`
	CreatedAt  time.Time             `json:"created_at"`
	EditedAt   time.Time             `json:"edited_at"`
}

// IsGap reports whether the interpretation marks a lacuna.
func (si *SignInterpretation) IsGap() bool {
	return si.Character == ""
}

// Clone returns a deep copy.
func (si *SignInterpretation) Clone() *SignInterpretation {
	c := *si
	c.Commentary = cloneString(si.Commentary)
	c.Attributes = make([]AttributeAttachment, len(si.Attributes))
	for i, a := range si.Attributes {
		a.Commentary = cloneString(a.Commentary)
		if a.Sequence != nil {
			seq := *a.Sequence
			a.Sequence = &seq
		}
		c.Attributes[i] = a
	}
	c.Regions = slices.Clone(si.Regions)
	if c.Regions == nil {
		c.Regions = []RegionPlacement{}
	}
	return &c
}

// SetAttribute creates the attachment or replaces the one with the same
// AttributeValueID, keeping its position in the list.
func (si *SignInterpretation) SetAttribute(att AttributeAttachment) error {
	if att.AttributeID == 0 || att.AttributeValueID == 0 {
		return fmt.Errorf("set attribute on %d: %w: zero attribute id", si.ID, graph.ErrInvalidInput)
	}
	for i := range si.Attributes {
		if si.Attributes[i].AttributeValueID == att.AttributeValueID {
			si.Attributes[i] = att
			return nil
		}
	}
	si.Attributes = append(si.Attributes, att)
	return nil
}

// RemoveAttribute drops the attachment for valueID.
func (si *SignInterpretation) RemoveAttribute(valueID uint64) error {
	i := slices.IndexFunc(si.Attributes, func(a AttributeAttachment) bool {
		return a.AttributeValueID == valueID
	})
	if i < 0 {
		return fmt.Errorf("remove attribute value %d from %d: %w", valueID, si.ID, graph.ErrNotFound)
	}
	si.Attributes = slices.Delete(si.Attributes, i, i+1)
	return nil
}

// SetCommentary replaces the commentary. Nil clears it.
func (si *SignInterpretation) SetCommentary(text *string) {
	si.Commentary = cloneString(text)
}

// AddRegion attaches a region. Region ids are unique within the node.
func (si *SignInterpretation) AddRegion(r RegionPlacement) error {
	if r.ID == 0 {
		return fmt.Errorf("add region to %d: %w: zero region id", si.ID, graph.ErrInvalidInput)
	}
	if slices.ContainsFunc(si.Regions, func(x RegionPlacement) bool { return x.ID == r.ID }) {
		return fmt.Errorf("add region %d to %d: %w: region already attached", r.ID, si.ID, graph.ErrInvalidInput)
	}
	si.Regions = append(si.Regions, r)
	return nil
}

// RemoveRegion detaches region id.
func (si *SignInterpretation) RemoveRegion(id uint64) error {
	i := slices.IndexFunc(si.Regions, func(x RegionPlacement) bool { return x.ID == id })
	if i < 0 {
		return fmt.Errorf("remove region %d from %d: %w", id, si.ID, graph.ErrNotFound)
	}
	si.Regions = slices.Delete(si.Regions, i, i+1)
	return nil
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
