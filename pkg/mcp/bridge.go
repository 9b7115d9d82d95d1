package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/calder/toolgate/pkg/registry"
	"github.com/calder/toolgate/pkg/tool"
)

// proxyTool is a local stand-in for a tool living on a remote server.
// Validation and security policy apply locally before the call leaves
// the process; the remote result is returned unchanged.
type proxyTool struct {
	client      *Client
	remoteName  string
	localName   string
	description string
	params      []tool.Parameter
}

func (p *proxyTool) Metadata() tool.Metadata {
	// Proxies carry no restricted tags of their own: the remote side
	// gates its tools with its own policy, and tagging every proxy
	// "network" would make bridging inert at the default safe level.
	return tool.Metadata{
		Name:        p.localName,
		Description: p.description,
		Version:     "bridged",
		Category:    "bridged",
		Tags:        []string{"bridged"},
	}
}

func (p *proxyTool) Parameters() []tool.Parameter { return p.params }

func (p *proxyTool) Call(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	res, err := p.client.CallTool(ctx, p.remoteName, args)
	if err != nil {
		return nil, &tool.ExecutionError{Tool: p.localName, Message: "remote call failed", Err: err}
	}
	if res.IsError {
		text := ""
		if len(res.Content) > 0 {
			text = res.Content[0].Text
		}
		return nil, &tool.ExecutionError{Tool: p.localName, Message: text}
	}

	if res.StructuredContent != nil {
		return res.StructuredContent, nil
	}
	if len(res.Content) == 1 {
		return res.Content[0].Text, nil
	}
	texts := make([]string, 0, len(res.Content))
	for _, c := range res.Content {
		texts = append(texts, c.Text)
	}
	return strings.Join(texts, "\n"), nil
}

// AdoptTools lists the remote server's tools and registers each one
// locally as prefix_name. Returns the local names registered. Tools
// whose names collide with existing registrations are skipped with a
// warning rather than failing the whole adoption.
func AdoptTools(ctx context.Context, client *Client, reg *registry.Registry, prefix string) ([]string, error) {
	if prefix == "" {
		return nil, fmt.Errorf("bridge prefix cannot be empty")
	}

	remote, err := client.ListTools(ctx)
	if err != nil {
		return nil, err
	}

	adopted := make([]string, 0, len(remote))
	for _, rt := range remote {
		localName := prefix + "_" + rt.Name
		proxy := &proxyTool{
			client:      client,
			remoteName:  rt.Name,
			localName:   localName,
			description: rt.Description,
			params:      parseRemoteParameters(rt.InputSchema),
		}

		if err := reg.Register(proxy); err != nil {
			log.Warn().Str("tool", localName).Err(err).Msg("Skipping bridged tool")
			continue
		}
		adopted = append(adopted, localName)
	}

	log.Info().Str("prefix", prefix).Int("count", len(adopted)).Msg("Remote tools adopted")
	return adopted, nil
}

// parseRemoteParameters converts a remote inputSchema into local
// parameter specs. Unknown or malformed schemas degrade to an empty
// spec, which accepts no arguments.
func parseRemoteParameters(schema json.RawMessage) []tool.Parameter {
	if len(schema) == 0 {
		return nil
	}

	var schemaMap map[string]interface{}
	if err := json.Unmarshal(schema, &schemaMap); err != nil {
		return nil
	}

	properties, ok := schemaMap["properties"].(map[string]interface{})
	if !ok {
		return nil
	}

	required := make(map[string]bool)
	if reqList, ok := schemaMap["required"].([]interface{}); ok {
		for _, r := range reqList {
			if name, ok := r.(string); ok {
				required[name] = true
			}
		}
	}

	params := make([]tool.Parameter, 0, len(properties))
	for name, propData := range properties {
		prop, ok := propData.(map[string]interface{})
		if !ok {
			continue
		}
		param := tool.Parameter{
			Name:     name,
			Type:     tool.TypeString,
			Required: required[name],
		}
		if typeVal, ok := prop["type"].(string); ok {
			if mapped, ok := remoteType(typeVal); ok {
				param.Type = mapped
			}
		}
		if desc, ok := prop["description"].(string); ok {
			param.Description = desc
		}
		if defVal, ok := prop["default"]; ok {
			param.Default = defVal
		}
		if enumVals, ok := prop["enum"].([]interface{}); ok && len(enumVals) > 0 {
			param.Type = tool.TypeEnum
			param.Constraints = &tool.Constraints{Enum: enumVals}
		}
		params = append(params, param)
	}
	return params
}

func remoteType(s string) (tool.ParameterType, bool) {
	switch s {
	case "string":
		return tool.TypeString, true
	case "integer":
		return tool.TypeInteger, true
	case "number":
		return tool.TypeNumber, true
	case "boolean":
		return tool.TypeBoolean, true
	case "array":
		return tool.TypeArray, true
	case "object":
		return tool.TypeObject, true
	default:
		return "", false
	}
}
