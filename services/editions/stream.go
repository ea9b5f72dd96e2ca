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
	"strings"

	"github.com/Scripta-Qumranica-Electronica/SQE-API-sub000/services/editions/graph"
	"github.com/Scripta-Qumranica-Electronica/SQE-API-sub000/services/editions/overlay"
	"github.com/Scripta-Qumranica-Electronica/SQE-API-sub000/services/editions/storage"
)

func signResult(st *streamState, si *overlay.SignInterpretation, inc Include) *SignResult {
	return &SignResult{
		Sign:     project(si, inc),
		Previous: nonNil(st.g.Predecessors(si.ID)),
		Next:     nonNil(st.g.Successors(si.ID)),
		Version:  st.version(),
	}
}

func nonNil(ids []graph.NodeID) []graph.NodeID {
	if ids == nil {
		return []graph.NodeID{}
	}
	return ids
}

// CreateSign adds a sign interpretation between the given neighbours.
//
// Description:
//
//	Links previous→new and new→next for every listed neighbour. Links
//	already running from a previous to a next node are kept, so the new
//	sign becomes an alternative reading. Attribute values must be
//	defined in the edition's catalog.
//
// Outputs:
//
//	*SignResult - The created sign with its links.
//	error - INVALID_INPUT, NOT_FOUND for unknown neighbours or attribute
//	        values, STRUCTURAL_CONFLICT when the links would close a cycle.
func (s *Service) CreateSign(ctx context.Context, edition uint64, in NewSign) (*SignResult, error) {
	var res *SignResult
	err := s.write(ctx, "create_sign", edition, AccessWrite, func(ctx context.Context) error {
		if len(in.Attributes) > 0 {
			cat, err := load(ctx, s, s.catalogScope(), storage.Catalog(edition))
			if err != nil {
				return err
			}
			for _, a := range in.Attributes {
				if err := cat.cat.CheckValue(a.AttributeID, a.AttributeValueID); err != nil {
					return err
				}
			}
		}

		id, err := s.store.NextID(ctx)
		if err != nil {
			return err
		}
		now := s.now().UTC()
		user := s.user(ctx)

		st, err := mutate(ctx, s, s.streamScope(), storage.Stream(edition), func(st *streamState) (change, error) {
			if err := st.g.InsertNode(id, in.Previous, in.Next); err != nil {
				return change{}, err
			}
			si := &overlay.SignInterpretation{
				ID:         id,
				SignID:     in.SignID,
				Character:  in.Character,
				IsVariant:  in.IsVariant,
				Attributes: []overlay.AttributeAttachment{},
				Regions:    []overlay.RegionPlacement{},
				CreatedBy:  user,
				EditedBy:   user,
				CreatedAt:  now,
				EditedAt:   now,
			}
			si.SetCommentary(in.Commentary)
			for _, a := range in.Attributes {
				if err := si.SetAttribute(a); err != nil {
					return change{}, err
				}
			}
			st.put(si)
			return change{
				touched: []graph.NodeID{id},
				event:   "sign_created",
				payload: map[string]any{"id": id, "previous": in.Previous, "next": in.Next},
			}, nil
		})
		if err != nil {
			return err
		}
		res = signResult(st, st.signs[id], IncludeAll)
		return nil
	})
	return res, err
}

// GetSign returns one sign interpretation and its links.
func (s *Service) GetSign(ctx context.Context, edition uint64, id graph.NodeID, inc Include) (*SignResult, error) {
	var res *SignResult
	err := s.read(ctx, "get_sign", edition, func(ctx context.Context) error {
		st, err := load(ctx, s, s.streamScope(), storage.Stream(edition))
		if err != nil {
			return err
		}
		si, ok := st.signs[id]
		if !ok {
			return graph.NotFound("get_sign", "unknown sign interpretation", id)
		}
		res = signResult(st, si, inc)
		return nil
	})
	return res, err
}

// DeleteSign removes a sign interpretation.
//
// Description:
//
//	By default each predecessor is linked to each successor so the
//	reading paths through the sign survive without it. With leaveGap the
//	sign is removed with its links and the paths are split.
func (s *Service) DeleteSign(ctx context.Context, edition uint64, id graph.NodeID, leaveGap bool) (*VersionResult, error) {
	var res *VersionResult
	err := s.write(ctx, "delete_sign", edition, AccessWrite, func(ctx context.Context) error {
		st, err := mutate(ctx, s, s.streamScope(), storage.Stream(edition), func(st *streamState) (change, error) {
			var err error
			if leaveGap {
				err = st.g.DetachNode(id)
			} else {
				err = st.g.DeleteNode(id)
			}
			if err != nil {
				return change{}, err
			}
			delete(st.signs, id)
			return change{
				event:   "sign_deleted",
				payload: map[string]any{"id": id, "leave_gap": leaveGap},
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

// updateSign applies fn to a copy of one sign and stores it.
func (s *Service) updateSign(ctx context.Context, op string, edition uint64, id graph.NodeID, before func(ctx context.Context) error, fn func(si *overlay.SignInterpretation) error) (*SignResult, error) {
	var res *SignResult
	err := s.write(ctx, op, edition, AccessWrite, func(ctx context.Context) error {
		if before != nil {
			cur, err := load(ctx, s, s.streamScope(), storage.Stream(edition))
			if err != nil {
				return err
			}
			if _, ok := cur.signs[id]; !ok {
				return graph.NotFound(op, "unknown sign interpretation", id)
			}
			if err := before(ctx); err != nil {
				return err
			}
		}
		now := s.now().UTC()
		user := s.user(ctx)
		st, err := mutate(ctx, s, s.streamScope(), storage.Stream(edition), func(st *streamState) (change, error) {
			si, err := st.sign(op, id)
			if err != nil {
				return change{}, err
			}
			if err := fn(si); err != nil {
				return change{}, err
			}
			si.EditedBy = user
			si.EditedAt = now
			st.put(si)
			return change{
				touched: []graph.NodeID{id},
				event:   "sign_updated",
				payload: map[string]any{"id": id, "change": op},
			}, nil
		})
		if err != nil {
			return err
		}
		res = signResult(st, st.signs[id], IncludeAll)
		return nil
	})
	return res, err
}

// SetCommentary replaces the commentary of a sign. Nil or blank text
// clears it.
func (s *Service) SetCommentary(ctx context.Context, edition uint64, id graph.NodeID, text *string) (*SignResult, error) {
	if text != nil && strings.TrimSpace(*text) == "" {
		text = nil
	}
	return s.updateSign(ctx, "set_commentary", edition, id, nil, func(si *overlay.SignInterpretation) error {
		si.SetCommentary(text)
		return nil
	})
}

// SetAttribute attaches an attribute value to a sign or updates the
// existing attachment of that value.
func (s *Service) SetAttribute(ctx context.Context, edition uint64, id graph.NodeID, att overlay.AttributeAttachment) (*SignResult, error) {
	check := func(ctx context.Context) error {
		cat, err := load(ctx, s, s.catalogScope(), storage.Catalog(edition))
		if err != nil {
			return err
		}
		return cat.cat.CheckValue(att.AttributeID, att.AttributeValueID)
	}
	return s.updateSign(ctx, "set_attribute", edition, id, check, func(si *overlay.SignInterpretation) error {
		return si.SetAttribute(att)
	})
}

// RemoveAttribute detaches an attribute value from a sign.
func (s *Service) RemoveAttribute(ctx context.Context, edition uint64, id graph.NodeID, valueID uint64) (*SignResult, error) {
	return s.updateSign(ctx, "remove_attribute", edition, id, nil, func(si *overlay.SignInterpretation) error {
		return si.RemoveAttribute(valueID)
	})
}

// AddRegion places a sign on an artefact image. The polygon is
// validated and, where possible, repaired first.
func (s *Service) AddRegion(ctx context.Context, edition uint64, id graph.NodeID, artefactID uint64, wkt string) (*SignResult, error) {
	var placement overlay.RegionPlacement
	prepare := func(ctx context.Context) error {
		if artefactID == 0 {
			return graph.Invalid("add_region", "zero artefact id", id)
		}
		res, err := s.geom.Validate(ctx, wkt)
		if err != nil {
			return err
		}
		regionID, err := s.store.NextID(ctx)
		if err != nil {
			return err
		}
		placement = overlay.RegionPlacement{
			ID:         uint64(regionID),
			ArtefactID: artefactID,
			WKT:        res.WKT,
			Repaired:   res.Repaired,
		}
		return nil
	}
	return s.updateSign(ctx, "add_region", edition, id, prepare, func(si *overlay.SignInterpretation) error {
		return si.AddRegion(placement)
	})
}

// RemoveRegion detaches a region from a sign.
func (s *Service) RemoveRegion(ctx context.Context, edition uint64, id graph.NodeID, regionID uint64) (*SignResult, error) {
	return s.updateSign(ctx, "remove_region", edition, id, nil, func(si *overlay.SignInterpretation) error {
		return si.RemoveRegion(regionID)
	})
}

// Link adds the reading link from→to.
//
// Outputs:
//
//	error - INVALID_INPUT for a self link, NOT_FOUND for unknown signs,
//	        STRUCTURAL_CONFLICT when the link exists or would close a cycle.
func (s *Service) Link(ctx context.Context, edition uint64, from, to graph.NodeID) (*VersionResult, error) {
	return s.relink(ctx, "add_link", "link_added", edition, from, to, (*graph.Graph).Link)
}

// Unlink removes the reading link from→to.
func (s *Service) Unlink(ctx context.Context, edition uint64, from, to graph.NodeID) (*VersionResult, error) {
	return s.relink(ctx, "remove_link", "link_removed", edition, from, to, (*graph.Graph).RemoveLink)
}

func (s *Service) relink(ctx context.Context, op, event string, edition uint64, from, to graph.NodeID, apply func(*graph.Graph, graph.NodeID, graph.NodeID) error) (*VersionResult, error) {
	var res *VersionResult
	err := s.write(ctx, op, edition, AccessWrite, func(ctx context.Context) error {
		st, err := mutate(ctx, s, s.streamScope(), storage.Stream(edition), func(st *streamState) (change, error) {
			if err := apply(st.g, from, to); err != nil {
				return change{}, err
			}
			return change{
				event:   event,
				payload: graph.Edge{From: from, To: to},
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

// Roots returns the stream's entry points in ascending id order.
func (s *Service) Roots(ctx context.Context, edition uint64) (*RootsResult, error) {
	var res *RootsResult
	err := s.read(ctx, "roots", edition, func(ctx context.Context) error {
		st, err := load(ctx, s, s.streamScope(), storage.Stream(edition))
		if err != nil {
			return err
		}
		res = &RootsResult{Roots: nonNil(graph.Roots(st.g)), Version: st.version()}
		return nil
	})
	return res, err
}

// Paths enumerates reading paths.
//
// Description:
//
//	With a non-zero from, returns every path from that sign to an end of
//	the stream. With from zero, does the same for each root in ascending
//	order. Branches are explored in the order their links were added.
//	inc selects the optional sign data included in each step.
func (s *Service) Paths(ctx context.Context, edition uint64, from graph.NodeID, inc Include) (*PathsResult, error) {
	var res *PathsResult
	err := s.read(ctx, "paths", edition, func(ctx context.Context) error {
		st, err := load(ctx, s, s.streamScope(), storage.Stream(edition))
		if err != nil {
			return err
		}

		var ids [][]graph.NodeID
		kind := "roots"
		if from != 0 {
			kind = "from"
			ids, err = graph.AllPathsContext(ctx, st.g, from)
		} else {
			ids, err = graph.PathsFromRoots(ctx, st.g)
		}
		if err != nil {
			return err
		}
		recordPaths(ctx, kind, len(ids))

		hydrated := make(map[graph.NodeID]*overlay.SignInterpretation)
		paths := make([][]*overlay.SignInterpretation, len(ids))
		for i, path := range ids {
			steps := make([]*overlay.SignInterpretation, len(path))
			for j, id := range path {
				si, ok := hydrated[id]
				if !ok {
					raw, found := st.signs[id]
					if !found {
						return graph.Corrupt("paths", "node without sign record", id)
					}
					si = project(raw, inc)
					hydrated[id] = si
				}
				steps[j] = si
			}
			paths[i] = steps
		}
		res = &PathsResult{Paths: paths, Version: st.version()}
		return nil
	})
	return res, err
}
