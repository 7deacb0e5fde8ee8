// Package python extracts Python function inventories using tree-sitter.
package python

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"

	"github.com/flowaudit/flowaudit/catalog"
	"github.com/flowaudit/flowaudit/parse"
)

func init() {
	parse.DefaultRegistry.Register("python", []string{".py"},
		func(workspaceRoot string) parse.FileParser {
			return NewParser(workspaceRoot)
		})
}

// Parser extracts functions and methods from Python source files.
type Parser struct {
	workspaceRoot string
	parser        *sitter.Parser
}

// NewParser creates a Python parser rooted at the workspace.
func NewParser(workspaceRoot string) *Parser {
	p := sitter.NewParser()
	p.SetLanguage(python.GetLanguage())
	return &Parser{workspaceRoot: workspaceRoot, parser: p}
}

// ParseFile extracts module-level functions (container = module name) and
// class methods (container = class name). Leading-underscore names are
// private by convention.
func (p *Parser) ParseFile(ctx context.Context, path string) (*parse.Result, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	rel, err := filepath.Rel(p.workspaceRoot, path)
	if err != nil {
		rel = path
	}
	rel = filepath.ToSlash(rel)

	tree, err := p.parser.ParseCtx(ctx, nil, content)
	if err != nil {
		return nil, fmt.Errorf("parse file: %w", err)
	}
	defer tree.Close()

	moduleName := strings.TrimSuffix(filepath.Base(path), ".py")
	result := &parse.Result{Path: rel, Language: "python"}
	p.collect(tree.RootNode(), content, moduleName, rel, path, result)
	return result, nil
}

func (p *Parser) collect(node *sitter.Node, content []byte, container, rel, abs string, result *parse.Result) {
	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)

		// Decorators wrap the real definition.
		if child.Type() == "decorated_definition" {
			if def := child.ChildByFieldName("definition"); def != nil {
				child = def
			}
		}

		switch child.Type() {
		case "function_definition":
			if entry := p.functionEntry(child, content, container, rel, abs); entry != nil {
				result.Functions = append(result.Functions, *entry)
			}
		case "class_definition":
			nameNode := child.ChildByFieldName("name")
			body := child.ChildByFieldName("body")
			if nameNode == nil || body == nil {
				continue
			}
			p.collect(body, content, nodeText(nameNode, content), rel, abs, result)
		}
	}
}

func (p *Parser) functionEntry(node *sitter.Node, content []byte, container, rel, abs string) *catalog.FunctionEntry {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		return nil
	}
	name := nodeText(nameNode, content)

	visibility := "public"
	if strings.HasPrefix(name, "_") {
		visibility = "private"
	}
	if name == "__init__" {
		name = "constructor"
		visibility = "public"
	}

	return &catalog.FunctionEntry{
		Container:    container,
		Name:         name,
		Signature:    signature(node.ChildByFieldName("parameters"), content),
		Visibility:   visibility,
		Body:         nodeText(node, content),
		StartLine:    int(node.StartPoint().Row) + 1,
		EndLine:      int(node.EndPoint().Row) + 1,
		RelativePath: rel,
		AbsolutePath: abs,
		Language:     "python",
	}
}

func signature(params *sitter.Node, content []byte) string {
	if params == nil {
		return ""
	}
	var parts []string
	for i := 0; i < int(params.NamedChildCount()); i++ {
		text := strings.ReplaceAll(nodeText(params.NamedChild(i), content), " ", "")
		if text == "self" || text == "cls" {
			continue
		}
		parts = append(parts, text)
	}
	return strings.Join(parts, ",")
}

func nodeText(node *sitter.Node, content []byte) string {
	return string(content[node.StartByte():node.EndByte()])
}
