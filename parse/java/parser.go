// Package java extracts Java function inventories using tree-sitter.
package java

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/java"

	"github.com/flowaudit/flowaudit/catalog"
	"github.com/flowaudit/flowaudit/parse"
)

func init() {
	parse.DefaultRegistry.Register("java", []string{".java"},
		func(workspaceRoot string) parse.FileParser {
			return NewParser(workspaceRoot)
		})
}

// Parser extracts methods and constructors from Java source files.
type Parser struct {
	workspaceRoot string
	parser        *sitter.Parser
}

// NewParser creates a Java parser rooted at the workspace.
func NewParser(workspaceRoot string) *Parser {
	p := sitter.NewParser()
	p.SetLanguage(java.GetLanguage())
	return &Parser{workspaceRoot: workspaceRoot, parser: p}
}

// ParseFile extracts methods keyed by their innermost class name.
// Interfaces are skipped: they carry no auditable bodies.
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

	result := &parse.Result{Path: rel, Language: "java"}
	p.collectClasses(tree.RootNode(), content, rel, path, result)
	return result, nil
}

func (p *Parser) collectClasses(node *sitter.Node, content []byte, rel, abs string, result *parse.Result) {
	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		if child.Type() == "class_declaration" {
			p.processClass(child, content, rel, abs, result)
		}
	}
}

func (p *Parser) processClass(class *sitter.Node, content []byte, rel, abs string, result *parse.Result) {
	nameNode := class.ChildByFieldName("name")
	body := class.ChildByFieldName("body")
	if nameNode == nil || body == nil {
		return
	}
	className := nodeText(nameNode, content)

	for j := 0; j < int(body.NamedChildCount()); j++ {
		member := body.NamedChild(j)
		switch member.Type() {
		case "method_declaration":
			if entry := p.methodEntry(member, content, className, "", rel, abs); entry != nil {
				result.Functions = append(result.Functions, *entry)
			}
		case "constructor_declaration":
			if entry := p.methodEntry(member, content, className, "constructor", rel, abs); entry != nil {
				result.Functions = append(result.Functions, *entry)
			}
		case "class_declaration":
			// Nested classes contribute under their own name.
			p.processClass(member, content, rel, abs, result)
		}
	}
}

func (p *Parser) methodEntry(node *sitter.Node, content []byte, className, forcedName, rel, abs string) *catalog.FunctionEntry {
	name := forcedName
	if name == "" {
		nameNode := node.ChildByFieldName("name")
		if nameNode == nil {
			return nil
		}
		name = nodeText(nameNode, content)
	}

	return &catalog.FunctionEntry{
		Container:    className,
		Name:         name,
		Signature:    signature(node.ChildByFieldName("parameters"), content),
		Visibility:   visibility(node, content),
		Body:         nodeText(node, content),
		StartLine:    int(node.StartPoint().Row) + 1,
		EndLine:      int(node.EndPoint().Row) + 1,
		RelativePath: rel,
		AbsolutePath: abs,
		Language:     "java",
	}
}

// visibility inspects the modifiers node. Package-private defaults to
// "package"; protected is grouped with private for audit purposes.
func visibility(node *sitter.Node, content []byte) string {
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		if child.Type() == "modifiers" {
			mods := nodeText(child, content)
			switch {
			case strings.Contains(mods, "public"):
				return "public"
			case strings.Contains(mods, "protected"), strings.Contains(mods, "private"):
				return "private"
			}
		}
	}
	return "package"
}

func signature(params *sitter.Node, content []byte) string {
	if params == nil {
		return ""
	}
	var parts []string
	for i := 0; i < int(params.NamedChildCount()); i++ {
		parts = append(parts, strings.ReplaceAll(nodeText(params.NamedChild(i), content), " ", ""))
	}
	return strings.Join(parts, ",")
}

func nodeText(node *sitter.Node, content []byte) string {
	return string(content[node.StartByte():node.EndByte()])
}
