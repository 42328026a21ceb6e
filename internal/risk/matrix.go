package risk

import (
	"regexp"
	"strconv"
	"strings"
)

// typeFamily groups dialect type names that share conversion semantics.
type typeFamily string

const (
	famInt      typeFamily = "int"
	famFloat    typeFamily = "float"
	famDecimal  typeFamily = "decimal"
	famChar     typeFamily = "char"
	famText     typeFamily = "text"
	famBool     typeFamily = "bool"
	famDate     typeFamily = "date"
	famTime     typeFamily = "timestamp"
	famBlob     typeFamily = "blob"
	famUUID     typeFamily = "uuid"
	famJSON     typeFamily = "json"
	famUnknown  typeFamily = "unknown"
	sizeUnbound            = 1 << 30
)

// castClass is the outcome of the type-compatibility matrix.
type castClass int

const (
	castWidening castClass = iota
	castNarrowing
	castIncompatible
)

var typeRe = regexp.MustCompile(`^([a-z ]+?)\s*(?:\((\d+)(?:\s*,\s*(\d+))?\))?$`)

// parseType maps a dialect type name to its family and storage width.
func parseType(name string) (typeFamily, int) {
	s := strings.ToLower(strings.TrimSpace(name))
	m := typeRe.FindStringSubmatch(s)
	base := s
	size := 0
	if m != nil {
		base = strings.TrimSpace(m[1])
		if m[2] != "" {
			size, _ = strconv.Atoi(m[2])
		}
	}

	switch base {
	case "tinyint", "int1":
		return famInt, 1
	case "smallint", "int2":
		return famInt, 2
	case "mediumint", "int3":
		return famInt, 3
	case "int", "integer", "int4", "serial":
		return famInt, 4
	case "bigint", "int8", "bigserial":
		return famInt, 8
	case "real", "float4", "float":
		return famFloat, 4
	case "double", "double precision", "float8":
		return famFloat, 8
	case "numeric", "decimal":
		if size == 0 {
			size = sizeUnbound
		}
		return famDecimal, size
	case "char", "character":
		if size == 0 {
			size = 1
		}
		return famChar, size
	case "varchar", "character varying", "nvarchar":
		if size == 0 {
			size = sizeUnbound
		}
		return famChar, size
	case "text", "tinytext", "mediumtext", "longtext", "clob":
		return famText, sizeUnbound
	case "bool", "boolean":
		return famBool, 1
	case "date":
		return famDate, 4
	case "timestamp", "timestamptz", "timestamp with time zone",
		"timestamp without time zone", "datetime", "time":
		return famTime, 8
	case "bytea", "blob", "binary", "varbinary":
		return famBlob, sizeUnbound
	case "uuid":
		return famUUID, 16
	case "json", "jsonb":
		return famJSON, sizeUnbound
	default:
		return famUnknown, 0
	}
}

// crossFamily is the compatibility lookup for conversions between
// families. Anything absent is incompatible: the matrix only records casts
// known to be lossless (widening) or merely lossy (narrowing).
var crossFamily = map[[2]typeFamily]castClass{
	{famInt, famDecimal}:   castWidening,
	{famInt, famFloat}:     castNarrowing, // big integers lose precision in floats
	{famInt, famText}:      castWidening,
	{famInt, famChar}:      castNarrowing,
	{famFloat, famDecimal}: castWidening,
	{famFloat, famText}:    castWidening,
	{famDecimal, famFloat}: castNarrowing,
	{famDecimal, famText}:  castWidening,
	{famChar, famText}:     castWidening,
	{famText, famChar}:     castNarrowing,
	{famBool, famInt}:      castWidening,
	{famBool, famText}:     castWidening,
	{famDate, famTime}:     castWidening,
	{famTime, famDate}:     castNarrowing,
	{famDate, famText}:     castWidening,
	{famTime, famText}:     castWidening,
	{famUUID, famText}:     castWidening,
	{famUUID, famChar}:     castNarrowing,
	{famJSON, famText}:     castWidening,
	{famText, famJSON}:     castNarrowing,
	{famText, famBlob}:     castWidening,
}

// classifyCast applies the built-in type-compatibility matrix: widening
// casts are SAFE, narrowing MEDIUM, incompatible HIGH. Unknown types fall
// through to incompatible, the worst-case assumption.
func classifyCast(oldType, newType string) castClass {
	of, os := parseType(oldType)
	nf, ns := parseType(newType)

	if of == famUnknown || nf == famUnknown {
		return castIncompatible
	}

	if of == nf {
		if ns >= os {
			return castWidening
		}
		return castNarrowing
	}

	if c, ok := crossFamily[[2]typeFamily{of, nf}]; ok {
		return c
	}
	return castIncompatible
}
