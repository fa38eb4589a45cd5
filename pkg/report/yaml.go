package report

import (
	"bytes"
	"fmt"
	"io"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/umputun/sqlfront/pkg/db"
)

// WriteYAML renders v as yaml document. Rows keep column order, positional rows rendered as lists,
// maps sorted by key. Everything else encoded by yaml as is. The document is written with a single Write call.
func WriteYAML(w io.Writer, v any) error {
	node, err := toNode(v)
	if err != nil {
		return fmt.Errorf("can't convert to yaml: %w", err)
	}
	buf := bytes.Buffer{}
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(node); err != nil {
		return fmt.Errorf("can't encode yaml: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("can't close yaml encoder: %w", err)
	}
	_, err = w.Write(buf.Bytes())
	return err
}

func toNode(v any) (*yaml.Node, error) {
	switch vv := v.(type) {
	case db.Row:
		return rowNode(vv)
	case []db.Row:
		res := &yaml.Node{Kind: yaml.SequenceNode}
		for _, r := range vv {
			n, err := rowNode(r)
			if err != nil {
				return nil, err
			}
			res.Content = append(res.Content, n)
		}
		return res, nil
	case map[string]any:
		keys := make([]string, 0, len(vv))
		for k := range vv {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		res := &yaml.Node{Kind: yaml.MappingNode}
		for _, k := range keys {
			n, err := toNode(vv[k])
			if err != nil {
				return nil, err
			}
			res.Content = append(res.Content, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: k}, n)
		}
		return res, nil
	}
	res := &yaml.Node{}
	if err := res.Encode(v); err != nil {
		return nil, err
	}
	return res, nil
}

func rowNode(r db.Row) (*yaml.Node, error) {
	if r.Names == nil {
		res := &yaml.Node{Kind: yaml.SequenceNode, Style: yaml.FlowStyle}
		for _, v := range r.Values {
			n, err := toNode(v)
			if err != nil {
				return nil, err
			}
			res.Content = append(res.Content, n)
		}
		return res, nil
	}
	res := &yaml.Node{Kind: yaml.MappingNode}
	for i, name := range r.Names {
		n, err := toNode(r.Values[i])
		if err != nil {
			return nil, err
		}
		res.Content = append(res.Content, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: name}, n)
	}
	return res, nil
}
