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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Scripta-Qumranica-Electronica/SQE-API-sub000/services/editions/graph"
)

func strPtr(s string) *string { return &s }

func TestSignInterpretation_Attributes(t *testing.T) {
	si := &SignInterpretation{ID: 5, Character: "א"}

	require.NoError(t, si.SetAttribute(AttributeAttachment{AttributeID: 1, AttributeValueID: 10}))
	require.NoError(t, si.SetAttribute(AttributeAttachment{AttributeID: 2, AttributeValueID: 20}))
	require.NoError(t, si.SetAttribute(AttributeAttachment{
		AttributeID: 1, AttributeValueID: 10, Commentary: strPtr("faded"),
	}))

	require.Len(t, si.Attributes, 2)
	assert.Equal(t, uint64(10), si.Attributes[0].AttributeValueID)
	assert.Equal(t, "faded", *si.Attributes[0].Commentary)

	require.NoError(t, si.RemoveAttribute(10))
	assert.Len(t, si.Attributes, 1)
	assert.ErrorIs(t, si.RemoveAttribute(10), graph.ErrNotFound)
	assert.ErrorIs(t, si.SetAttribute(AttributeAttachment{AttributeID: 1}), graph.ErrInvalidInput)
}

func TestSignInterpretation_Commentary(t *testing.T) {
	si := &SignInterpretation{ID: 5}
	text := "reading uncertain"
	si.SetCommentary(&text)
	text = "changed by caller"
	require.NotNil(t, si.Commentary)
	assert.Equal(t, "reading uncertain", *si.Commentary)

	si.SetCommentary(nil)
	assert.Nil(t, si.Commentary)
}

func TestSignInterpretation_Regions(t *testing.T) {
	si := &SignInterpretation{ID: 5}
	r := RegionPlacement{ID: 3, ArtefactID: 8, WKT: "POLYGON((0 0,1 0,1 1,0 0))"}

	require.NoError(t, si.AddRegion(r))
	assert.ErrorIs(t, si.AddRegion(r), graph.ErrInvalidInput)
	assert.Equal(t, []RegionPlacement{r}, si.Regions)

	require.NoError(t, si.RemoveRegion(3))
	assert.Empty(t, si.Regions)
	assert.ErrorIs(t, si.RemoveRegion(3), graph.ErrNotFound)
}

func TestSignInterpretation_Clone(t *testing.T) {
	seq := 1
	si := &SignInterpretation{
		ID:         5,
		Commentary: strPtr("a"),
		Attributes: []AttributeAttachment{{AttributeID: 1, AttributeValueID: 10, Sequence: &seq}},
	}
	c := si.Clone()
	*c.Commentary = "b"
	*c.Attributes[0].Sequence = 9
	c.Attributes[0].AttributeValueID = 11

	assert.Equal(t, "a", *si.Commentary)
	assert.Equal(t, 1, *si.Attributes[0].Sequence)
	assert.Equal(t, uint64(10), si.Attributes[0].AttributeValueID)
	assert.True(t, (&SignInterpretation{}).IsGap())
}

func testCatalog(t *testing.T) *Catalog {
	t.Helper()
	c, err := NewCatalog(
		Attribute{ID: 1, Name: "sign_type", Values: []AttributeValue{
			{ID: 10, Value: "LETTER"}, {ID: 11, Value: "SPACE"},
		}},
		Attribute{ID: 2, Name: "damage", Values: []AttributeValue{{ID: 20, Value: "DAMAGED"}}},
	)
	require.NoError(t, err)
	return c
}

func TestCatalog_CheckValue(t *testing.T) {
	c := testCatalog(t)
	assert.NoError(t, c.CheckValue(1, 11))
	assert.ErrorIs(t, c.CheckValue(1, 20), graph.ErrInvalidInput)
	assert.ErrorIs(t, c.CheckValue(9, 10), graph.ErrNotFound)
}

func TestCatalog_Define(t *testing.T) {
	c := testCatalog(t)

	tests := []struct {
		name     string
		attr     Attribute
		wantKind error
	}{
		{"zero id", Attribute{Name: "x"}, graph.ErrInvalidInput},
		{"blank name", Attribute{ID: 3, Name: "  "}, graph.ErrInvalidInput},
		{"zero value", Attribute{ID: 3, Name: "x", Values: []AttributeValue{{ID: 0}}}, graph.ErrInvalidInput},
		{"repeated value", Attribute{ID: 3, Name: "x", Values: []AttributeValue{{ID: 30}, {ID: 30}}}, graph.ErrInvalidInput},
		{"value owned elsewhere", Attribute{ID: 3, Name: "x", Values: []AttributeValue{{ID: 20}}}, graph.ErrStructuralConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, c.Define(tt.attr), tt.wantKind)
		})
	}

	require.NoError(t, c.Define(Attribute{ID: 1, Name: "sign_type", Values: []AttributeValue{{ID: 10}}}))
	assert.ErrorIs(t, c.CheckValue(1, 11), graph.ErrInvalidInput)
}

func TestCatalog_RemoveAndList(t *testing.T) {
	c := testCatalog(t)
	clone := c.Clone()

	require.NoError(t, c.Remove(1))
	assert.ErrorIs(t, c.Remove(1), graph.ErrNotFound)
	_, ok := c.Lookup(1)
	assert.False(t, ok)

	attrs := clone.Attributes()
	require.Len(t, attrs, 2)
	assert.Equal(t, uint64(1), attrs[0].ID)
	assert.Equal(t, uint64(2), attrs[1].ID)
}

func TestCatalog_AttributesSortedByID(t *testing.T) {
	c, err := NewCatalog()
	require.NoError(t, err)
	for _, id := range []uint64{40, 3, 1 << 40, 17, 2} {
		require.NoError(t, c.Define(Attribute{ID: id, Name: "attr"}))
	}

	var got []uint64
	for _, a := range c.Attributes() {
		got = append(got, a.ID)
	}
	assert.Equal(t, []uint64{2, 3, 17, 40, 1 << 40}, got)
}
