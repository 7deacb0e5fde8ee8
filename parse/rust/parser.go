// Package rust extracts Rust function inventories using tree-sitter.
// Contract programs on Solana, CosmWasm, and NEAR ship as Rust crates.
package rust

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/rust"

	"github.com/flowaudit/flowaudit/catalog"
	"github.com/flowaudit/flowaudit/parse"
)

func init() {
	parse.DefaultRegistry.Register("rust", []string{".rs"},
		func(workspaceRoot string) parse.FileParser {
			return NewParser(workspaceRoot)
		})
}

// Parser extracts functions from Rust source files.
type Parser struct {
	workspaceRoot string
	parser        *sitter.Parser
}

// NewParser creates a Rust parser rooted at the workspace.
func NewParser(workspaceRoot string) *Parser {
	p := sitter.NewParser()
	p.SetLanguage(rust.GetLanguage())
	return &Parser{workspaceRoot: workspaceRoot, parser: p}
}

// ParseFile extracts every function item, using the enclosing impl or mod
// as the container and the file stem for top-level functions.
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

	result := &parse.Result{Path: rel, Language: "rust"}
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	p.collect(tree.RootNode(), content, stem, rel, path, result)
	return result, nil
}

// collect walks items recursively, tracking the innermost container name.
func (p *Parser) collect(node *sitter.Node, content []byte, container, rel, abs string, result *parse.Result) {
	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		switch child.Type() {
		case "function_item":
			if entry := p.functionEntry(child, content, container, rel, abs); entry != nil {
				result.Functions = append(result.Functions, *entry)
			}
		case "impl_item":
			implContainer := container
			if typeNode := child.ChildByFieldName("type"); typeNode != nil {
				implContainer = baseTypeName(nodeText(typeNode, content))
			}
			if body := child.ChildByFieldName("body"); body != nil {
				p.collect(body, content, implContainer, rel, abs, result)
			}
		case "mod_item":
			modContainer := container
			if nameNode := child.ChildByFieldName("name"); nameNode != nil {
				modContainer = nodeText(nameNode, content)
			}
			if body := child.ChildByFieldName("body"); body != nil {
				p.collect(body, content, modContainer, rel, abs, result)
			}
		}
	}
}

func (p *Parser) functionEntry(node *sitter.Node, content []byte, container, rel, abs string) *catalog.FunctionEntry {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		return nil
	}

	return &catalog.FunctionEntry{
		Container:    container,
		Name:         nodeText(nameNode, content),
		Signature:    signature(node.ChildByFieldName("parameters"), content),
		Visibility:   visibility(node, content),
		Body:         nodeText(node, content),
		StartLine:    int(node.StartPoint().Row) + 1,
		EndLine:      int(node.EndPoint().Row) + 1,
		RelativePath: rel,
		AbsolutePath: abs,
		Language:     "rust",
	}
}

// visibility maps the optional visibility_modifier: bare "pub" is public,
// scoped forms (pub(crate), pub(super)) are crate-internal, nothing is
// private.
func visibility(node *sitter.Node, content []byte) string {
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		if child.Type() == "visibility_modifier" {
			if nodeText(child, content) == "pub" {
				return "pub"
			}
			return "crate"
		}
	}
	return "private"
}

// signature joins parameter texts, dropping self receivers.
func signature(params *sitter.Node, content []byte) string {
	if params == nil {
		return ""
	}
	var parts []string
	for i := 0; i < int(params.NamedChildCount()); i++ {
		param := params.NamedChild(i)
		if param.Type() == "self_parameter" {
			continue
		}
		parts = append(parts, strings.ReplaceAll(nodeText(param, content), " ", ""))
	}
	return strings.Join(parts, ",")
}

// baseTypeName strips generic arguments from an impl target type.
func baseTypeName(t string) string {
	if i := strings.Index(t, "<"); i > 0 {
		return t[:i]
	}
	return t
}

func nodeText(node *sitter.Node, content []byte) string {
	return string(content[node.StartByte():node.EndByte()])
}
