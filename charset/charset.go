// Package charset implements the charset-id -> decoder dispatch table of
// spec.md section 4.5/4.8 ("Charset & type registry"). It is kept as its
// own package, the way the rest of this module's protocol engine keeps
// single-purpose concerns (buffer, collations, fields) in small files,
// so that column decoding can depend on it without pulling
// golang.org/x/text into every file that touches a byte string.
package charset

import (
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/encoding/korean"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/traditionalchinese"
	"golang.org/x/text/encoding/unicode"
)

// ID is a MySQL collation id as carried in ColumnDef41.charset
// (spec.md section 4.5). It names a collation, not a bare charset, but
// every collation id maps onto exactly one charset for decoding purposes.
type ID = uint16

// decoders maps charset *name* (the part of a collation name before the
// first underscore) to a decoder. utf8/utf8mb4/ascii/binary are not
// listed: their bytes are already valid UTF-8 (or pass through
// unchanged for BLOB/binary columns) so Decode special-cases them
// without a table lookup.
var decoders = map[string]encoding.Encoding{
	"latin1": charmap.Windows1252, // MySQL's latin1 is actually cp1252
	"cp1251": charmap.Windows1251,
	"cp1256": charmap.Windows1256,
	"cp1257": charmap.Windows1257,
	"cp850":  charmap.CodePage850,
	"cp852":  charmap.CodePage852,
	"cp866":  charmap.CodePage866,
	"koi8r":  charmap.KOI8R,
	"koi8u":  charmap.KOI8U,
	"greek":  charmap.ISO8859_7,
	"hebrew": charmap.ISO8859_8,
	"gbk":    simplifiedchinese.GBK,
	"gb2312": simplifiedchinese.HZGB2312,
	"big5":   traditionalchinese.Big5,
	"sjis":   japanese.ShiftJIS,
	"cp932":  japanese.ShiftJIS,
	"ujis":   japanese.EUCJP,
	"euckr":  korean.EUCKR,
	"ucs2":   unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM),
	"utf16":  unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM),
}

// passthroughCharsets decode as their raw bytes: already-UTF-8 charsets
// and the pseudo-charset "binary" used for BLOB/BINARY columns.
var passthroughCharsets = map[string]bool{
	"utf8":    true,
	"utf8mb4": true,
	"ascii":   true,
	"binary":  true,
}

// Decode converts raw column bytes to a UTF-8 Go string according to the
// named charset (the part of a collation name before its first
// underscore, e.g. "gbk" from "gbk_chinese_ci"). Columns flagged binary
// bypass Decode entirely per spec.md 4.5 ("binary flag on the column
// forces raw bytes").
func Decode(charsetName string, b []byte) (string, error) {
	if passthroughCharsets[charsetName] || charsetName == "" {
		return string(b), nil
	}
	dec, ok := decoders[charsetName]
	if !ok {
		// Unknown/rare charset: fall back to raw passthrough rather than
		// failing the whole row decode.
		return string(b), nil
	}
	out, err := dec.NewDecoder().Bytes(b)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
