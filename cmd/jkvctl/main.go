// Command jkvctl is a thin driver over package storage, for poking at a
// volume from a shell: get/set/erase a path, or mount a second volume's
// subtree before doing so. It is not part of the library's public surface.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/jkv/jkv/storage"
	"github.com/jkv/jkv/volume"
)

func run(rootDir *string, mountPoint, mountDir, mountSubdir *string, path *string, op *string, valueKind, valueStr *string) error {
	root, err := volume.Open(*rootDir, volume.DefaultSettings(), true, nil)
	if err != nil {
		return fmt.Errorf("opening root volume %q: %w", *rootDir, err)
	}
	defer root.Close()

	builder := storage.NewBuilder(root)
	if *mountPoint != "" {
		if *mountDir == "" {
			return fmt.Errorf("-mount-dir is required when -mount is set")
		}
		mv, err := volume.Open(*mountDir, volume.DefaultSettings(), true, nil)
		if err != nil {
			return fmt.Errorf("opening mount volume %q: %w", *mountDir, err)
		}
		defer mv.Close()
		builder = builder.Mount(*mountPoint, mv, *mountSubdir)
	}

	s, err := builder.Build()
	if err != nil {
		return fmt.Errorf("building storage: %w", err)
	}

	switch *op {
	case "get":
		v, err := s.Get(*path)
		if err != nil {
			return err
		}
		if v.IsNone() {
			fmt.Println("<none>")
			return nil
		}
		fmt.Println(formatValue(v))
		return nil
	case "set":
		v, err := parseValue(*valueKind, *valueStr)
		if err != nil {
			return err
		}
		return s.Set(*path, v, 0)
	case "erase":
		return s.Erase(*path)
	default:
		return fmt.Errorf("unknown -op %q (want get, set, or erase)", *op)
	}
}

func formatValue(v volume.Value) string {
	switch v.Kind {
	case volume.TypeBool:
		return fmt.Sprintf("bool(%v)", v.Bool)
	case volume.TypeI32:
		return fmt.Sprintf("i32(%d)", v.I32)
	case volume.TypeU32:
		return fmt.Sprintf("u32(%d)", v.U32)
	case volume.TypeI64:
		return fmt.Sprintf("i64(%d)", v.I64)
	case volume.TypeU64:
		return fmt.Sprintf("u64(%d)", v.U64)
	case volume.TypeF32:
		return fmt.Sprintf("f32(%v)", v.F32)
	case volume.TypeF64:
		return fmt.Sprintf("f64(%v)", v.F64)
	case volume.TypeString:
		return fmt.Sprintf("string(%q)", v.Str)
	case volume.TypeBlob:
		return fmt.Sprintf("blob(%d bytes)", len(v.Blob))
	default:
		return "<none>"
	}
}

func parseValue(kind, raw string) (volume.Value, error) {
	switch kind {
	case "string":
		return volume.StringValue(raw), nil
	case "u32":
		var n uint32
		if _, err := fmt.Sscan(raw, &n); err != nil {
			return volume.Value{}, fmt.Errorf("parsing u32 %q: %w", raw, err)
		}
		return volume.U32Value(n), nil
	case "i32":
		var n int32
		if _, err := fmt.Sscan(raw, &n); err != nil {
			return volume.Value{}, fmt.Errorf("parsing i32 %q: %w", raw, err)
		}
		return volume.I32Value(n), nil
	case "bool":
		return volume.BoolValue(raw == "true"), nil
	default:
		return volume.Value{}, fmt.Errorf("unsupported -value-kind %q (want string, u32, i32, or bool)", kind)
	}
}

func main() {
	rootDir := flag.String("root", "", "root volume directory (created if missing)")
	mountPoint := flag.String("mount", "", "optional mount point (e.g. /home) to overlay before the operation")
	mountDir := flag.String("mount-dir", "", "volume directory to mount at -mount")
	mountSubdir := flag.String("mount-subdir", "/", "subdirectory of -mount-dir to expose at -mount")
	path := flag.String("path", "", "key path to operate on")
	op := flag.String("op", "get", "operation: get, set, or erase")
	valueKind := flag.String("value-kind", "string", "value type for -op=set: string, u32, i32, or bool")
	valueStr := flag.String("value", "", "value to set for -op=set")
	flag.Parse()

	if *rootDir == "" || *path == "" {
		fmt.Fprintln(os.Stderr, "usage: jkvctl -root <dir> -path </key> [-op get|set|erase] [-value-kind k -value v] [-mount /p -mount-dir <dir>]")
		os.Exit(2)
	}

	if err := run(rootDir, mountPoint, mountDir, mountSubdir, path, op, valueKind, valueStr); err != nil {
		log.Fatalf("jkvctl: %v", err)
	}
}
