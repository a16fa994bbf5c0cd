package plugin

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"basil/pkg/bus"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Definition is a declarative plugin file. Responders register before
// watchers; within each list, file order is registration order.
type Definition struct {
	Responders []Rule `yaml:"responders" toml:"responders"`
	Watchers   []Rule `yaml:"watchers" toml:"watchers"`
}

// Rule declares one handler. Trigger is string-origin (whole text), Pattern is
// pattern-origin (partial match); with neither the rule matches everything.
// Reply is a text/template executed against the ExecContext.
type Rule struct {
	Trigger     string `yaml:"trigger" toml:"trigger"`
	Pattern     string `yaml:"pattern" toml:"pattern"`
	Reply       string `yaml:"reply" toml:"reply"`
	Addressed   bool   `yaml:"addressed" toml:"addressed"`
	Description string `yaml:"description" toml:"description"`
}

// LoadDefinitionFile parses a .yml, .yaml or .toml definition and registers
// its rules.
func LoadDefinitionFile(path string, reg *Registry) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}

	def, err := ParseDefinition(filepath.Ext(path), content)
	if err != nil {
		return fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}

	return def.Register(reg)
}

// ParseDefinition decodes content according to the file extension.
func ParseDefinition(ext string, content []byte) (Definition, error) {
	var def Definition

	switch strings.ToLower(ext) {
	case ".yml", ".yaml":
		dec := yaml.NewDecoder(bytes.NewReader(content))
		dec.KnownFields(true)
		if err := dec.Decode(&def); err != nil && !errors.Is(err, io.EOF) {
			return Definition{}, err
		}
	case ".toml":
		dec := toml.NewDecoder(bytes.NewReader(content))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&def); err != nil {
			return Definition{}, err
		}
	default:
		return Definition{}, fmt.Errorf("%w: %q", ErrUnsupportedFile, ext)
	}

	return def, nil
}

// Register adds every rule to reg, stopping at the first invalid rule.
func (d Definition) Register(reg *Registry) error {
	for i, rule := range d.Responders {
		h, err := rule.handler(KindResponder)
		if err != nil {
			return fmt.Errorf("responder %d: %w", i, err)
		}
		reg.Register(h)
	}

	for i, rule := range d.Watchers {
		h, err := rule.handler(KindWatcher)
		if err != nil {
			return fmt.Errorf("watcher %d: %w", i, err)
		}
		reg.Register(h)
	}

	return nil
}

func (r Rule) handler(kind Kind) (*Handler, error) {
	trigger, err := r.trigger()
	if err != nil {
		return nil, err
	}

	if strings.TrimSpace(r.Reply) == "" {
		return nil, errors.New("reply is required")
	}
	tmpl, err := template.New("reply").Option("missingkey=zero").Parse(r.Reply)
	if err != nil {
		return nil, fmt.Errorf("parse reply template: %w", err)
	}

	addressed := r.Addressed
	action := func(_ context.Context, ec ExecContext) (*bus.Reply, error) {
		var out bytes.Buffer
		if err := tmpl.Execute(&out, ec); err != nil {
			return nil, fmt.Errorf("render reply: %w", err)
		}

		reply := ec.Reply(out.String())
		if !addressed {
			reply.To = ""
		}
		return reply, nil
	}

	h := NewHandler(kind, trigger, action)
	if r.Description != "" {
		h.Describe(r.Description)
	}
	return h, nil
}

func (r Rule) trigger() (Trigger, error) {
	switch {
	case r.Trigger != "" && r.Pattern != "":
		return Trigger{}, errors.New("set either trigger or pattern, not both")
	case r.Trigger != "":
		return NewText(r.Trigger)
	case r.Pattern != "":
		t, err := NewPattern(r.Pattern)
		if err != nil {
			return Trigger{}, err
		}
		return t, nil
	default:
		return Any(), nil
	}
}
