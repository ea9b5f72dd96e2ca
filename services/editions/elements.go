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
	"github.com/Scripta-Qumranica-Electronica/SQE-API-sub000/services/editions/storage"
)

// CreateFragment adds a text fragment to the edition's fragment order.
// A zero previous or next means no anchor on that side.
func (s *Service) CreateFragment(ctx context.Context, edition uint64, name string, previous, next graph.NodeID) (*ElementResult, error) {
	var res *ElementResult
	err := s.write(ctx, "create_fragment", edition, AccessWrite, func(ctx context.Context) error {
		var err error
		res, err = s.createElement(ctx, "create_fragment", storage.Fragments(edition), Element{Name: name, Kind: KindFragment}, previous, next)
		return err
	})
	return res, err
}

// Fragments lists the edition's fragments in order.
func (s *Service) Fragments(ctx context.Context, edition uint64) (*ElementsResult, error) {
	var res *ElementsResult
	err := s.read(ctx, "list_fragments", edition, func(ctx context.Context) error {
		var err error
		res, err = s.listElements(ctx, storage.Fragments(edition))
		return err
	})
	return res, err
}

// MoveFragment moves a fragment between new neighbours.
func (s *Service) MoveFragment(ctx context.Context, edition uint64, id, previous, next graph.NodeID) (*ElementResult, error) {
	var res *ElementResult
	err := s.write(ctx, "move_fragment", edition, AccessWrite, func(ctx context.Context) error {
		var err error
		res, err = s.moveElement(ctx, storage.Fragments(edition), id, previous, next)
		return err
	})
	return res, err
}

// DeleteFragment removes a fragment and all of its lines.
func (s *Service) DeleteFragment(ctx context.Context, edition uint64, id graph.NodeID) (*VersionResult, error) {
	var res *VersionResult
	err := s.write(ctx, "delete_fragment", edition, AccessWrite, func(ctx context.Context) error {
		lines := storage.Lines(edition, uint64(id))
		var err error
		res, err = s.removeElement(ctx, storage.Fragments(edition), id, lines)
		if err == nil {
			s.sequences.Invalidate(lines.String())
		}
		return err
	})
	return res, err
}

// CreateLine adds a line to a fragment.
func (s *Service) CreateLine(ctx context.Context, edition uint64, fragment graph.NodeID, name string, previous, next graph.NodeID) (*ElementResult, error) {
	var res *ElementResult
	err := s.write(ctx, "create_line", edition, AccessWrite, func(ctx context.Context) error {
		if err := s.requireFragment(ctx, "create_line", edition, fragment); err != nil {
			return err
		}
		var err error
		res, err = s.createElement(ctx, "create_line", storage.Lines(edition, uint64(fragment)),
			Element{Name: name, Kind: KindLine, ParentID: uint64(fragment)}, previous, next)
		return err
	})
	return res, err
}

// Lines lists a fragment's lines in order.
func (s *Service) Lines(ctx context.Context, edition uint64, fragment graph.NodeID) (*ElementsResult, error) {
	var res *ElementsResult
	err := s.read(ctx, "list_lines", edition, func(ctx context.Context) error {
		if err := s.requireFragment(ctx, "list_lines", edition, fragment); err != nil {
			return err
		}
		var err error
		res, err = s.listElements(ctx, storage.Lines(edition, uint64(fragment)))
		return err
	})
	return res, err
}

// MoveLine moves a line between new neighbours within its fragment.
func (s *Service) MoveLine(ctx context.Context, edition uint64, fragment, id, previous, next graph.NodeID) (*ElementResult, error) {
	var res *ElementResult
	err := s.write(ctx, "move_line", edition, AccessWrite, func(ctx context.Context) error {
		if err := s.requireFragment(ctx, "move_line", edition, fragment); err != nil {
			return err
		}
		var err error
		res, err = s.moveElement(ctx, storage.Lines(edition, uint64(fragment)), id, previous, next)
		return err
	})
	return res, err
}

// DeleteLine removes a line, joining its neighbours.
func (s *Service) DeleteLine(ctx context.Context, edition uint64, fragment, id graph.NodeID) (*VersionResult, error) {
	var res *VersionResult
	err := s.write(ctx, "delete_line", edition, AccessWrite, func(ctx context.Context) error {
		if err := s.requireFragment(ctx, "delete_line", edition, fragment); err != nil {
			return err
		}
		var err error
		res, err = s.removeElement(ctx, storage.Lines(edition, uint64(fragment)), id)
		return err
	})
	return res, err
}

func (s *Service) requireFragment(ctx context.Context, op string, edition uint64, fragment graph.NodeID) error {
	st, err := load(ctx, s, s.sequenceScope(), storage.Fragments(edition))
	if err != nil {
		return err
	}
	if !st.seq.Has(fragment) {
		return graph.NotFound(op, "unknown fragment", fragment)
	}
	return nil
}

func (s *Service) createElement(ctx context.Context, op string, key storage.ScopeKey, el Element, previous, next graph.NodeID) (*ElementResult, error) {
	el.Name = strings.TrimSpace(el.Name)
	if el.Name == "" {
		return nil, graph.Invalid(op, "empty name")
	}
	id, err := s.store.NextID(ctx)
	if err != nil {
		return nil, err
	}
	el.ID = id

	st, err := mutate(ctx, s, s.sequenceScope(), key, func(st *sequenceState) (change, error) {
		if err := st.seq.InsertBetween(id, previous, next); err != nil {
			return change{}, err
		}
		st.elems[id] = el
		return change{
			touched: []graph.NodeID{id},
			event:   string(el.Kind) + "_created",
			payload: el,
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return &ElementResult{Element: el, Version: st.version()}, nil
}

func (s *Service) listElements(ctx context.Context, key storage.ScopeKey) (*ElementsResult, error) {
	st, err := load(ctx, s, s.sequenceScope(), key)
	if err != nil {
		return nil, err
	}
	elems, err := st.ordered()
	if err != nil {
		return nil, err
	}
	return &ElementsResult{Elements: elems, Version: st.version()}, nil
}

func (s *Service) moveElement(ctx context.Context, key storage.ScopeKey, id, previous, next graph.NodeID) (*ElementResult, error) {
	st, err := mutate(ctx, s, s.sequenceScope(), key, func(st *sequenceState) (change, error) {
		if err := st.seq.MoveBetween(id, previous, next); err != nil {
			return change{}, err
		}
		el := st.elems[id]
		return change{
			event:   string(el.Kind) + "_moved",
			payload: map[string]any{"id": id, "previous": previous, "next": next},
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return &ElementResult{Element: st.elems[id], Version: st.version()}, nil
}

func (s *Service) removeElement(ctx context.Context, key storage.ScopeKey, id graph.NodeID, drop ...storage.ScopeKey) (*VersionResult, error) {
	st, err := mutate(ctx, s, s.sequenceScope(), key, func(st *sequenceState) (change, error) {
		el, ok := st.elems[id]
		if !ok {
			return change{}, graph.NotFound("remove_element", "unknown element", id)
		}
		if err := st.seq.Remove(id); err != nil {
			return change{}, err
		}
		delete(st.elems, id)
		return change{
			drop:    drop,
			event:   string(el.Kind) + "_deleted",
			payload: map[string]any{"id": id},
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return &VersionResult{Version: st.version()}, nil
}
