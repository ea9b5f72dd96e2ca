// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package editions

import (
	"context"
	"fmt"
	"slices"

	"github.com/Scripta-Qumranica-Electronica/SQE-API-sub000/pkg/validation"
	"github.com/Scripta-Qumranica-Electronica/SQE-API-sub000/services/editions/graph"
	"github.com/Scripta-Qumranica-Electronica/SQE-API-sub000/services/editions/overlay"
	"github.com/Scripta-Qumranica-Electronica/SQE-API-sub000/services/editions/storage"
)

// DefineAttribute creates or replaces an attribute definition.
//
// Description:
//
//	A zero attribute id or value id is assigned from the store. When an
//	existing definition is replaced, values still attached to a sign may
//	not be dropped.
func (s *Service) DefineAttribute(ctx context.Context, edition uint64, a overlay.Attribute) (*AttributeResult, error) {
	var res *AttributeResult
	err := s.write(ctx, "define_attribute", edition, AccessAdmin, func(ctx context.Context) error {
		name, err := validation.SanitizeAttributeName(a.Name)
		if err != nil {
			return graph.Invalid("define_attribute", err.Error())
		}
		a.Name = name
		a.Values = slices.Clone(a.Values)
		if a.ID == 0 {
			id, err := s.store.NextID(ctx)
			if err != nil {
				return err
			}
			a.ID = uint64(id)
		}
		for i := range a.Values {
			if a.Values[i].ID == 0 {
				id, err := s.store.NextID(ctx)
				if err != nil {
					return err
				}
				a.Values[i].ID = uint64(id)
			}
		}

		cat, err := load(ctx, s, s.catalogScope(), storage.Catalog(edition))
		if err != nil {
			return err
		}
		if old, ok := cat.cat.Lookup(a.ID); ok {
			var dropped []uint64
			for _, v := range old.Values {
				if !slices.ContainsFunc(a.Values, func(n overlay.AttributeValue) bool { return n.ID == v.ID }) {
					dropped = append(dropped, v.ID)
				}
			}
			if err := s.checkUnused(ctx, edition, "define_attribute", func(att overlay.AttributeAttachment) bool {
				return slices.Contains(dropped, att.AttributeValueID)
			}); err != nil {
				return err
			}
		}

		st, err := mutate(ctx, s, s.catalogScope(), storage.Catalog(edition), func(st *catalogState) (change, error) {
			if err := st.define(a); err != nil {
				return change{}, err
			}
			return change{
				touched: []graph.NodeID{graph.NodeID(a.ID)},
				event:   "attribute_defined",
				payload: a,
			}, nil
		})
		if err != nil {
			return err
		}
		def, _ := st.cat.Lookup(a.ID)
		res = &AttributeResult{Attribute: def, Version: st.version()}
		return nil
	})
	return res, err
}

// Attributes lists the edition's catalog in ascending id order.
func (s *Service) Attributes(ctx context.Context, edition uint64) (*AttributesResult, error) {
	var res *AttributesResult
	err := s.read(ctx, "list_attributes", edition, func(ctx context.Context) error {
		st, err := load(ctx, s, s.catalogScope(), storage.Catalog(edition))
		if err != nil {
			return err
		}
		res = &AttributesResult{Attributes: st.cat.Attributes(), Version: st.version()}
		return nil
	})
	return res, err
}

// DeleteAttribute removes a definition. It fails with
// STRUCTURAL_CONFLICT while any sign still carries one of its values.
func (s *Service) DeleteAttribute(ctx context.Context, edition uint64, id uint64) (*VersionResult, error) {
	var res *VersionResult
	err := s.write(ctx, "delete_attribute", edition, AccessAdmin, func(ctx context.Context) error {
		if err := s.checkUnused(ctx, edition, "delete_attribute", func(att overlay.AttributeAttachment) bool {
			return att.AttributeID == id
		}); err != nil {
			return err
		}
		st, err := mutate(ctx, s, s.catalogScope(), storage.Catalog(edition), func(st *catalogState) (change, error) {
			if err := st.remove(id); err != nil {
				return change{}, err
			}
			return change{
				event:   "attribute_deleted",
				payload: map[string]uint64{"id": id},
			}, nil
		})
		if err != nil {
			return err
		}
		res = &VersionResult{Version: st.version()}
		return nil
	})
	return res, err
}

// checkUnused fails when any sign has an attachment matching inUse.
func (s *Service) checkUnused(ctx context.Context, edition uint64, op string, inUse func(overlay.AttributeAttachment) bool) error {
	stream, err := load(ctx, s, s.streamScope(), storage.Stream(edition))
	if err != nil {
		return err
	}
	for _, id := range stream.g.Nodes() {
		for _, att := range stream.signs[id].Attributes {
			if inUse(att) {
				return graph.Conflict(op,
					fmt.Sprintf("attribute value %d is attached to a sign", att.AttributeValueID), id)
			}
		}
	}
	return nil
}
