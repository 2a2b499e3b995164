// Command settingsdoc parses the settings structs and writes a Markdown
// reference of every settings.json key. Run from the project root:
//
//	go run ./cmd/settingsdoc -out docs/settings.md
package main

import (
	"bytes"
	"flag"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
)

// structInfo is one parsed struct.
type structInfo struct {
	name   string
	doc    string
	fields []fieldInfo
}

type fieldInfo struct {
	jsonName string
	goType   string
	optional bool
	doc      string
}

// sections lists the structs to document, in output order. Qualified keys
// ("dir:Name") disambiguate the per-engine Config structs.
var sections = []string{
	"SettingsConfig",
	"CaptureSettings",
	"VADSettings",
	"FramingSettings",
	"ToneSettings",
	"VoiceProfile",
	"IdleSettings",
	"RetentionSettings",
	"PathSettings",
	"SessionAPIConfig",
	"SessionConfig",
	"SessionSTTConfig",
	"SessionLLMConfig",
	"SessionTTSConfig",
	"STTFactoryConfig",
	"LLMFactoryConfig",
	"TTSFactoryConfig",
	"services/openai/stt:Config",
	"services/openai/llm:Config",
	"services/openai/tts:Config",
	"services/ollama/llm:Config",
	"services/command/stt:Config",
	"services/command/tts:Config",
	"DeepgramConfig",
	"DepgramTTSConfig",
	"ElevenLabsTTSConfig",
	"CartesiaTTSConfig",
}

// titles renames sections whose Go name is ambiguous.
var titles = map[string]string{
	"services/openai/stt:Config":  "OpenAI transcription",
	"services/openai/llm:Config":  "OpenAI-compatible responses",
	"services/openai/tts:Config":  "OpenAI speech",
	"services/ollama/llm:Config":  "Ollama responses",
	"services/command/stt:Config": "Command transcription",
	"services/command/tts:Config": "Command speech",
}

// secretKeys never appear in the reference; they come from the environment.
var secretKeys = map[string]bool{
	"api_key": true,
}

func main() {
	outPath := flag.String("out", "", "output file; stdout when empty")
	flag.Parse()

	root, err := os.Getwd()
	if err != nil {
		fatal("getwd: %v", err)
	}
	structs, err := parseTree(root)
	if err != nil {
		fatal("parse: %v", err)
	}

	var buf bytes.Buffer
	render(&buf, structs, sections)

	if *outPath == "" {
		os.Stdout.Write(buf.Bytes())
		return
	}
	if err := os.MkdirAll(filepath.Dir(*outPath), 0o755); err != nil {
		fatal("mkdir: %v", err)
	}
	if err := os.WriteFile(*outPath, buf.Bytes(), 0o644); err != nil {
		fatal("write: %v", err)
	}
	fmt.Fprintf(os.Stderr, "wrote %s (%d bytes)\n", *outPath, buf.Len())
}

// parseTree parses every package under root. Structs are stored under both
// their plain name, first one wins, and "rel/dir:Name".
func parseTree(root string) (map[string]*structInfo, error) {
	skip := map[string]bool{".git": true, "vendor": true, "_examples": true, "settingsdoc": true}
	all := map[string]*structInfo{}
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if skip[d.Name()] {
			return filepath.SkipDir
		}
		structs, err := parseDir(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "warning: skipping %s: %v\n", path, err)
			return nil
		}
		rel, _ := filepath.Rel(root, path)
		rel = filepath.ToSlash(rel)
		for name, si := range structs {
			all[rel+":"+name] = si
			if _, ok := all[name]; !ok {
				all[name] = si
			}
		}
		return nil
	})
	return all, err
}

func parseDir(dir string) (map[string]*structInfo, error) {
	fset := token.NewFileSet()
	notTest := func(fi fs.FileInfo) bool { return !strings.HasSuffix(fi.Name(), "_test.go") }
	pkgs, err := parser.ParseDir(fset, dir, notTest, parser.ParseComments)
	if err != nil {
		return nil, err
	}

	result := map[string]*structInfo{}
	for _, pkg := range pkgs {
		for _, file := range pkg.Files {
			for _, decl := range file.Decls {
				gen, ok := decl.(*ast.GenDecl)
				if !ok || gen.Tok != token.TYPE {
					continue
				}
				for _, spec := range gen.Specs {
					ts, ok := spec.(*ast.TypeSpec)
					if !ok {
						continue
					}
					st, ok := ts.Type.(*ast.StructType)
					if !ok {
						continue
					}
					doc := ts.Doc
					if doc == nil {
						doc = gen.Doc
					}
					result[ts.Name.Name] = parseStruct(ts.Name.Name, commentText(doc), st)
				}
			}
		}
	}
	return result, nil
}

func parseStruct(name, doc string, st *ast.StructType) *structInfo {
	si := &structInfo{name: name, doc: doc}
	for _, field := range st.Fields.List {
		if field.Tag == nil {
			continue
		}
		tag := reflect.StructTag(strings.Trim(field.Tag.Value, "`"))
		parts := strings.Split(tag.Get("json"), ",")
		jsonName := parts[0]
		if jsonName == "" || jsonName == "-" || secretKeys[jsonName] {
			continue
		}

		optional := isPointer(field.Type)
		for _, p := range parts[1:] {
			if p == "omitempty" {
				optional = true
			}
		}

		text := commentText(field.Doc)
		if text == "" {
			text = commentText(field.Comment)
		}
		si.fields = append(si.fields, fieldInfo{
			jsonName: jsonName,
			goType:   typeExprToString(field.Type),
			optional: optional,
			doc:      text,
		})
	}
	return si
}

func commentText(g *ast.CommentGroup) string {
	if g == nil {
		return ""
	}
	return strings.Join(strings.Fields(g.Text()), " ")
}

func typeExprToString(expr ast.Expr) string {
	switch t := expr.(type) {
	case *ast.Ident:
		return t.Name
	case *ast.StarExpr:
		return "*" + typeExprToString(t.X)
	case *ast.ArrayType:
		return "[]" + typeExprToString(t.Elt)
	case *ast.MapType:
		return "map[" + typeExprToString(t.Key) + "]" + typeExprToString(t.Value)
	case *ast.SelectorExpr:
		return typeExprToString(t.X) + "." + t.Sel.Name
	case *ast.InterfaceType:
		return "interface{}"
	default:
		return "unknown"
	}
}

func isPointer(expr ast.Expr) bool {
	_, ok := expr.(*ast.StarExpr)
	return ok
}

// jsonType describes a Go type the way it appears in settings.json.
func jsonType(goType string) string {
	clean := strings.TrimPrefix(goType, "*")
	switch clean {
	case "string":
		return "string"
	case "bool":
		return "boolean"
	case "int", "int32", "int64", "float32", "float64":
		return "number"
	case "map[string]string":
		return "object of strings"
	}
	if strings.HasPrefix(clean, "[]") {
		return "list of " + jsonType(clean[2:])
	}
	if strings.HasPrefix(clean, "map[string]") {
		return "object of " + jsonType(clean[len("map[string]"):])
	}
	if idx := strings.LastIndex(clean, "."); idx >= 0 {
		clean = clean[idx+1:]
	}
	return "`" + clean + "`"
}

func render(buf *bytes.Buffer, structs map[string]*structInfo, order []string) {
	buf.WriteString("<!-- Code generated by cmd/settingsdoc; DO NOT EDIT. -->\n\n")
	buf.WriteString("# settings.json reference\n\n")
	buf.WriteString("Absent keys keep their defaults. API keys are read from the environment.\n\n")

	var missing []string
	for _, key := range order {
		si, ok := structs[key]
		if !ok {
			missing = append(missing, key)
			continue
		}
		title := si.name
		if t, ok := titles[key]; ok {
			title = t + " (`" + si.name + "`)"
		}
		fmt.Fprintf(buf, "## %s\n\n", title)
		if si.doc != "" {
			fmt.Fprintf(buf, "%s\n\n", si.doc)
		}
		buf.WriteString("| Key | Type | Notes |\n|---|---|---|\n")
		for _, f := range si.fields {
			notes := f.doc
			if f.optional {
				notes = strings.TrimSpace("Optional. " + notes)
			}
			fmt.Fprintf(buf, "| `%s` | %s | %s |\n", f.jsonName, jsonType(f.goType), strings.ReplaceAll(notes, "|", "\\|"))
		}
		buf.WriteString("\n")
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		fmt.Fprintf(os.Stderr, "warning: structs not found: %s\n", strings.Join(missing, ", "))
	}
}

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "settingsdoc: "+format+"\n", args...)
	os.Exit(1)
}
