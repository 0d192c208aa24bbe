package scenarioprovider

import (
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"github.com/cuemby/contour/pkg/editlock"
	"github.com/cuemby/contour/pkg/scenario"
	"github.com/cuemby/contour/pkg/types"
)

// xmlConfig is the root <config> document: a flat list of <scenario>
// entries, parsed with encoding/xml per SPEC_FULL.md §4.11.
type xmlConfig struct {
	XMLName   xml.Name    `xml:"config"`
	Scenarios []xmlScenario `xml:"scenario"`
}

type xmlScenario struct {
	Name   string     `xml:"name,attr"`
	ID     string     `xml:"uuid,attr"`
	Notify string     `xml:"notify,attr"`
	Input  *xmlInput  `xml:"input"`
	Group  *xmlGroup  `xml:",any"`
}

type xmlInput struct {
	Type string `xml:"type,attr"`
}

// xmlGroup is parsed manually from the scenario's remaining children
// (concurrent/consequent/run), since encoding/xml has no clean way to
// express "exactly one child of one of several tag names" declaratively.
type xmlGroup struct {
	XMLName    xml.Name
	LockCells  string     `xml:"lock_cells,attr"`
	LockObjects string    `xml:"lock_objects,attr"`
	Children   []xmlGroup `xml:",any"`
	RunText    string     `xml:",chardata"`
}

// ParseError reports a malformed scenario document, mirroring the
// original's ScenarioProviderBase.ParseError.
type ParseError struct {
	msg string
}

func (e *ParseError) Error() string { return "scenario db: " + e.msg }

func parseError(format string, args ...any) error {
	return &ParseError{msg: fmt.Sprintf(format, args...)}
}

var inputTypeByName = map[string]types.TaskInputKind{
	"cells": types.InputKindCells,
	"rect":  types.InputKindRect,
}

// document is the loaded, resolved form of the scenario DB: ready-to-clone
// Scenario trees plus the lookup tables the provider serves.
type document struct {
	byID     map[string]*scenario.Scenario
	byName   map[string]string
	byNotify map[string]string
}

// parseDocument parses and fully resolves r against the known routing
// keys, returning a ParseError for anything structurally wrong and
// preserving the original's duplicate-uuid/duplicate-name/duplicate-notify
// checks.
func parseDocument(r io.Reader, knownRoutingKeys func(string) bool, lockManager scenario.LockManager) (*document, error) {
	var root xmlConfig
	dec := xml.NewDecoder(r)
	if err := dec.Decode(&root); err != nil {
		return nil, parseError("incorrect XML: %v", err)
	}

	doc := &document{
		byID:     make(map[string]*scenario.Scenario),
		byName:   make(map[string]string),
		byNotify: make(map[string]string),
	}

	for _, s := range root.Scenarios {
		if s.Name == "" {
			return nil, parseError("attribute \"name\" is not specified in tag \"scenario\"")
		}
		if s.ID == "" {
			return nil, parseError("attribute \"uuid\" is not specified in tag \"scenario\"")
		}
		name := strings.ToLower(s.Name)
		if _, exists := doc.byID[s.ID]; exists {
			return nil, parseError("duplicate scenario uuid: %s", s.ID)
		}
		if _, exists := doc.byName[name]; exists {
			return nil, parseError("duplicate scenario name: %s", name)
		}
		if s.Notify != "" {
			if _, exists := doc.byNotify[s.Notify]; exists {
				return nil, parseError("duplicate notify binding: %s", s.Notify)
			}
		}
		if s.Input == nil {
			return nil, parseError("scenario %q has no <input> tag", s.Name)
		}
		inputKind, ok := inputTypeByName[s.Input.Type]
		if !ok {
			return nil, parseError("scenario %q: unknown input type %q", s.Name, s.Input.Type)
		}
		if s.Group == nil {
			return nil, parseError("scenario %q has no group execution child", s.Name)
		}

		child, err := buildNode(*s.Group, knownRoutingKeys, lockManager)
		if err != nil {
			return nil, parseError("scenario %q: %v", s.Name, err)
		}

		tree := &scenario.Scenario{Name: name, InputType: inputKind, Child: child}
		doc.byID[s.ID] = tree
		doc.byName[name] = s.ID
		if s.Notify != "" {
			doc.byNotify[s.Notify] = s.ID
		}
	}

	return doc, nil
}

func buildNode(g xmlGroup, knownRoutingKeys func(string) bool, lockManager scenario.LockManager) (scenario.Node, error) {
	switch g.XMLName.Local {
	case "concurrent", "consequent":
		locker, err := buildLocker(g, lockManager)
		if err != nil {
			return nil, err
		}
		children := make([]scenario.Node, 0, len(g.Children))
		for _, c := range g.Children {
			child, err := buildNode(c, knownRoutingKeys, lockManager)
			if err != nil {
				return nil, err
			}
			children = append(children, child)
		}
		if g.XMLName.Local == "concurrent" {
			return &scenario.Concurrent{Locker: locker, Children: children}, nil
		}
		return &scenario.Consequent{Locker: locker, Children: children}, nil

	case "run":
		routingKey := strings.TrimSpace(g.RunText)
		if routingKey == "" {
			return nil, parseError("tag \"run\" has no routing key text")
		}
		if !knownRoutingKeys(routingKey) {
			return nil, parseError("unknown request: %s", routingKey)
		}
		return &scenario.Run{RoutingKey: routingKey}, nil

	default:
		return nil, parseError("unknown tag %q", g.XMLName.Local)
	}
}

func buildLocker(g xmlGroup, lockManager scenario.LockManager) (scenario.Locker, error) {
	switch {
	case g.LockCells != "":
		pairs, err := scenario.ParsePairs(g.LockCells)
		if err != nil {
			return nil, err
		}
		return &scenario.CellLocker{Manager: lockManager, Pairs: pairs}, nil
	case g.LockObjects != "":
		pairs, err := scenario.ParsePairs(g.LockObjects)
		if err != nil {
			return nil, err
		}
		return &scenario.ObjectLocker{Manager: lockManager, Pairs: pairs}, nil
	default:
		return scenario.NoopLocker{}, nil
	}
}

// Compile-time check that a live *editlock.Manager satisfies
// scenario.LockManager, so it can be passed straight to parseDocument/New.
var _ scenario.LockManager = (*editlock.Manager)(nil)
