package importer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cleared-dev/concilia/internal/fieldmap"
	"github.com/cleared-dev/concilia/internal/model"
)

func ofxMap(t *testing.T) model.FieldMap {
	t.Helper()
	fm, err := fieldmap.ResolveTemplate("ofx", fieldmap.Builtin())
	require.NoError(t, err)
	return fm
}

// collect drains a record sequence, splitting block errors from the fatal one.
func collect(t *testing.T, p Parser, input string, fm model.FieldMap) ([]model.RawRecord, []*BlockError, error) {
	t.Helper()
	var (
		recs   []model.RawRecord
		blocks []*BlockError
		fatal  error
	)
	for rec, err := range p.Records(context.Background(), strings.NewReader(input), fm) {
		var be *BlockError
		switch {
		case errors.As(err, &be):
			blocks = append(blocks, be)
		case err != nil:
			fatal = err
		default:
			recs = append(recs, rec)
		}
	}
	return recs, blocks, fatal
}

func TestOFXParser_SGML(t *testing.T) {
	data, err := os.ReadFile("../../testdata/itau_extrato.ofx")
	require.NoError(t, err)

	recs, blocks, fatal := collect(t, &OFXParser{}, string(data), ofxMap(t))
	require.NoError(t, fatal)
	assert.Empty(t, blocks)
	require.Len(t, recs, 4)

	first := recs[0]
	assert.Equal(t, 1, first.Position)
	assert.Equal(t, "20250102100000[-3:BRT]", first.Get(model.FieldPostedDate))
	assert.Equal(t, "1500.00", first.Get(model.FieldAmount))
	assert.Equal(t, "20250102001", first.Get(model.FieldExternalID))
	assert.Equal(t, "001", first.Get(model.FieldDocumentNumber))
	assert.Equal(t, "PIX RECEBIDO JOAO", first.Get(model.FieldDescription))
	assert.Equal(t, "CREDIT", first.Get(model.FieldKind))
	assert.Contains(t, first.Text, "<FITID>20250102001")

	// No CHECKNUM in the third block.
	_, ok := recs[2].Fields[model.FieldDocumentNumber]
	assert.False(t, ok)

	// Entities are decoded.
	assert.Equal(t, "COMPRA CARTAO PADARIA & CAFE", recs[3].Get(model.FieldDescription))
}

func TestOFXParser_XML(t *testing.T) {
	input := `<?xml version="1.0"?><?OFX OFXHEADER="200"?><OFX><BANKMSGSRSV1><STMTTRNRS><STMTRS><BANKTRANLIST>` +
		`<STMTTRN><TRNTYPE>DEBIT</TRNTYPE><DTPOSTED>20250103</DTPOSTED><TRNAMT>-10.50</TRNAMT><FITID>A1</FITID>` +
		`<PAYEE><NAME>ACME</NAME></PAYEE><MEMO>PIX ENVIADO ACME</MEMO></STMTTRN>` +
		`</BANKTRANLIST></STMTRS></STMTTRNRS></BANKMSGSRSV1></OFX>`

	recs, blocks, fatal := collect(t, &OFXParser{}, input, ofxMap(t))
	require.NoError(t, fatal)
	assert.Empty(t, blocks)
	require.Len(t, recs, 1)
	assert.Equal(t, "-10.50", recs[0].Get(model.FieldAmount))
	assert.Equal(t, "PIX ENVIADO ACME", recs[0].Get(model.FieldDescription))
	assert.Equal(t, "A1", recs[0].Get(model.FieldExternalID))
}

func TestOFXParser_CaseInsensitiveSourceNames(t *testing.T) {
	fm := ofxMap(t)
	fm.Fields[model.FieldDescription] = "name"
	input := "<STMTTRN><TRNAMT>1.00<FITID>X<DTPOSTED>20250101<NAME>Loja</STMTTRN>"

	recs, _, fatal := collect(t, &OFXParser{}, input, fm)
	require.NoError(t, fatal)
	require.Len(t, recs, 1)
	assert.Equal(t, "Loja", recs[0].Get(model.FieldDescription))
}

func TestOFXParser_MalformedBlockContinues(t *testing.T) {
	input := "<OFX>\n" +
		"<STMTTRN>\n<TRNAMT>-1.00\n<FITID>A\n<DTPOSTED>20250101\n<MEMO>ONE\n</STMTTRN>\n" +
		"<STMTTRN>\n<TRNAMT>-2.00\n<FITID>B\n<DTPOSTED 20250102\n<MEMO>TWO\n</STMTTRN>\n" +
		"<STMTTRN>\n<TRNAMT>-3.00\n<FITID>C\n<DTPOSTED>20250103\n<MEMO>THREE\n</STMTTRN>\n" +
		"</OFX>\n"

	recs, blocks, fatal := collect(t, &OFXParser{}, input, ofxMap(t))
	require.NoError(t, fatal)
	require.Len(t, recs, 2)
	assert.Equal(t, "ONE", recs[0].Get(model.FieldDescription))
	assert.Equal(t, "THREE", recs[1].Get(model.FieldDescription))
	assert.Equal(t, 3, recs[1].Position)

	require.Len(t, blocks, 1)
	assert.Equal(t, 2, blocks[0].Position)
	assert.Contains(t, blocks[0].Reason, "malformed tag")
	assert.Contains(t, blocks[0].Raw, "<FITID>B")
}

func TestOFXParser_UnterminatedBlocks(t *testing.T) {
	input := "<STMTTRN><TRNAMT>-1.00<FITID>A<DTPOSTED>20250101<MEMO>ONE" +
		"<STMTTRN><TRNAMT>-2.00<FITID>B<DTPOSTED>20250102<MEMO>TWO"

	recs, blocks, fatal := collect(t, &OFXParser{}, input, ofxMap(t))
	require.NoError(t, fatal)
	assert.Empty(t, recs)
	require.Len(t, blocks, 2)
	assert.Contains(t, blocks[0].Reason, "before next <STMTTRN>")
	assert.Contains(t, blocks[1].Reason, "end of file")
}

func TestOFXParser_OversizedBlock(t *testing.T) {
	input := "<STMTTRN><MEMO>" + strings.Repeat("x", MaxBlockBytes+10) + "</STMTTRN>" +
		"<STMTTRN><TRNAMT>1<FITID>Z<DTPOSTED>20250101<MEMO>OK</STMTTRN>"

	recs, blocks, fatal := collect(t, &OFXParser{}, input, ofxMap(t))
	require.NoError(t, fatal)
	require.Len(t, blocks, 1)
	assert.Contains(t, blocks[0].Reason, "exceeds")
	assert.LessOrEqual(t, len(blocks[0].Raw), MaxBlockBytes)
	require.Len(t, recs, 1)
	assert.Equal(t, "OK", recs[0].Get(model.FieldDescription))
}

func TestOFXParser_NoBlocksIsStructural(t *testing.T) {
	_, _, fatal := collect(t, &OFXParser{}, "this is not a statement", ofxMap(t))
	var spe *model.StructuralParseError
	require.True(t, errors.As(fatal, &spe))
	assert.Equal(t, model.FormatOFX, spe.Format)
}

func TestOFXParser_StopsWhenConsumerStops(t *testing.T) {
	data, err := os.ReadFile("../../testdata/itau_extrato.ofx")
	require.NoError(t, err)

	n := 0
	for range (&OFXParser{}).Records(context.Background(), strings.NewReader(string(data)), ofxMap(t)) {
		n++
		if n == 2 {
			break
		}
	}
	assert.Equal(t, 2, n)
}

func TestOFXParser_Cancelled(t *testing.T) {
	data, err := os.ReadFile("../../testdata/itau_extrato.ofx")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var last error
	for _, err := range (&OFXParser{}).Records(ctx, strings.NewReader(string(data)), ofxMap(t)) {
		last = err
	}
	assert.ErrorIs(t, last, context.Canceled)
}

func csvMap(t *testing.T) model.FieldMap {
	t.Helper()
	fm, err := fieldmap.ResolveTemplate("csv-br", fieldmap.Builtin())
	require.NoError(t, err)
	return fm
}

func TestCSVParser_Parse(t *testing.T) {
	data, err := os.ReadFile("../../testdata/extrato.csv")
	require.NoError(t, err)

	recs, blocks, fatal := collect(t, &CSVParser{}, string(data), csvMap(t))
	require.NoError(t, fatal)
	assert.Empty(t, blocks)
	require.Len(t, recs, 3)

	assert.Equal(t, 2, recs[0].Position)
	assert.Equal(t, "02/01/2025", recs[0].Get(model.FieldPostedDate))
	assert.Equal(t, "1.500,00", recs[0].Get(model.FieldAmount))
	assert.Equal(t, "c-001", recs[0].Get(model.FieldExternalID))
	assert.Equal(t, "PIX RECEBIDO JOAO", recs[0].Get(model.FieldDescription))
	assert.Equal(t, "", recs[2].Get(model.FieldDocumentNumber))
}

func TestCSVParser_BadRowContinues(t *testing.T) {
	input := "data;historico;valor;id\n" +
		"02/01/2025;A;1,00;1\n" +
		"03/01/2025;B;2,00\n" +
		"04/01/2025;C;3,00;3\n"

	recs, blocks, fatal := collect(t, &CSVParser{}, input, csvMap(t))
	require.NoError(t, fatal)
	require.Len(t, recs, 2)
	assert.Equal(t, "C", recs[1].Get(model.FieldDescription))
	require.Len(t, blocks, 1)
	assert.Equal(t, 3, blocks[0].Position)
	assert.Contains(t, blocks[0].Raw, "03/01/2025")
}

func TestCSVParser_HeaderMissingColumns(t *testing.T) {
	_, _, fatal := collect(t, &CSVParser{}, "data;historico\n01/01/2025;x\n", csvMap(t))
	var spe *model.StructuralParseError
	require.True(t, errors.As(fatal, &spe))
	assert.Contains(t, spe.Reason, "valor")
	assert.Contains(t, spe.Reason, "id")
}

func TestCSVParser_EmptyAndHeaderOnly(t *testing.T) {
	_, _, fatal := collect(t, &CSVParser{}, "", csvMap(t))
	assert.ErrorContains(t, fatal, "file is empty")

	_, _, fatal = collect(t, &CSVParser{}, "data;historico;valor;id\n", csvMap(t))
	assert.ErrorContains(t, fatal, "no transaction rows")
}

func TestCSVParser_BadDelimiter(t *testing.T) {
	fm := csvMap(t)
	fm.Delimiter = ";;"
	_, _, fatal := collect(t, &CSVParser{}, "a;b\n", fm)
	assert.ErrorContains(t, fatal, "single character")
}

func xlsMap(t *testing.T) model.FieldMap {
	t.Helper()
	fm := csvMap(t)
	fm.Format = model.FormatXLS
	fm.DecimalSeparator = "."
	return fm
}

func TestXLSParser_Format(t *testing.T) {
	assert.Equal(t, "xls", (&XLSParser{}).Format())
	assert.True(t, blankRow([]string{"", "  "}))
	assert.True(t, blankRow(nil))
	assert.False(t, blankRow([]string{"", "x"}))
}

func TestXLSParser_Records(t *testing.T) {
	data, err := os.ReadFile("../../testdata/extrato.xls")
	require.NoError(t, err)

	recs, blocks, fatal := collect(t, &XLSParser{}, string(data), xlsMap(t))
	require.NoError(t, fatal)
	assert.Empty(t, blocks)
	require.Len(t, recs, 3)

	// Header sits below a two-line preamble and a blank row; the blank row
	// between the second and third transaction is skipped.
	assert.Equal(t, []int{5, 6, 8}, []int{recs[0].Position, recs[1].Position, recs[2].Position})

	assert.Equal(t, "02/01/2025", recs[0].Get(model.FieldPostedDate))
	assert.Equal(t, "1500", recs[0].Get(model.FieldAmount))
	assert.Equal(t, "x-001", recs[0].Get(model.FieldExternalID))
	assert.Equal(t, "001", recs[0].Get(model.FieldDocumentNumber))

	assert.Equal(t, "TARIFA PACOTE SERVIÇOS", recs[1].Get(model.FieldDescription))
	assert.Equal(t, "-89.9", recs[1].Get(model.FieldAmount))

	assert.Equal(t, "", recs[2].Get(model.FieldDocumentNumber))
	assert.Equal(t, "-250", recs[2].Get(model.FieldAmount))
	assert.Equal(t, "05/01/2025\tPAG BOLETO ENERGIA\t\t-250\tx-003", recs[2].Text)
}

func TestXLSParser_StructuralErrors(t *testing.T) {
	noBook, err := os.ReadFile("../../testdata/no_workbook.xls")
	require.NoError(t, err)

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "not an ole file", input: "data;historico;valor;id\n", want: "opening workbook"},
		{name: "no workbook stream", input: string(noBook), want: "no workbook stream"},
		{name: "oversize", input: string(make([]byte, MaxXLSBytes+1)), want: "exceeds"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recs, _, fatal := collect(t, &XLSParser{}, tt.input, xlsMap(t))
			assert.Empty(t, recs)
			var spe *model.StructuralParseError
			require.True(t, errors.As(fatal, &spe), "got %v", fatal)
			assert.Equal(t, model.FormatXLS, spe.Format)
			assert.Contains(t, spe.Reason, tt.want)
		})
	}
}

func TestSheetRecords(t *testing.T) {
	header := []string{"Data", " Historico ", "documento", "Valor", "ID"}
	row := func(desc string) []string { return []string{"02/01/2025", desc, "", "1.00", desc} }

	tests := []struct {
		name      string
		rows      [][]string
		positions []int
		fatal     string
	}{
		{name: "header first", rows: [][]string{header, row("A"), row("B")}, positions: []int{2, 3}},
		{name: "preamble above header", rows: [][]string{{"Banco"}, nil, {"Conta", "123"}, header, row("A")}, positions: []int{5}},
		{name: "blank rows skipped", rows: [][]string{header, nil, row("A"), {"", " "}, row("B"), nil}, positions: []int{3, 5}},
		{name: "no header", rows: [][]string{{"Banco"}, row("A")}, fatal: "no header row"},
		{name: "header only", rows: [][]string{{"Banco"}, header, nil}, fatal: "no transaction rows"},
		{name: "empty sheet", rows: nil, fatal: "no header row"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var (
				positions []int
				fatal     error
			)
			for rec, err := range sheetRecords(context.Background(), tt.rows, xlsMap(t)) {
				if err != nil {
					fatal = err
					continue
				}
				positions = append(positions, rec.Position)
				assert.Equal(t, rec.Get(model.FieldDescription), rec.Get(model.FieldExternalID))
			}
			if tt.fatal != "" {
				assert.ErrorContains(t, fatal, tt.fatal)
				return
			}
			require.NoError(t, fatal)
			assert.Equal(t, tt.positions, positions)
		})
	}
}

func TestSheetRecords_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var fatal error
	for _, err := range sheetRecords(ctx, [][]string{{"data", "historico", "valor", "id"}, {"1", "2", "3", "4"}}, xlsMap(t)) {
		fatal = err
	}
	assert.ErrorIs(t, fatal, context.Canceled)
}

func TestRegistry_GetUnknown(t *testing.T) {
	r := NewRegistry()
	assert.Nil(t, r.Get("nonexistent"))
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := NewRegistry()
	r.Register(&OFXParser{})
	p := r.Get("ofx")
	require.NotNil(t, p)
	assert.Equal(t, "ofx", p.Format())
}

func TestRegistry_CaseInsensitive(t *testing.T) {
	r := NewRegistry()
	r.Register(&CSVParser{})
	assert.NotNil(t, r.Get("Csv"))
	assert.NotNil(t, r.Get("CSV"))
}

func TestRegistry_DuplicatePanics(t *testing.T) {
	r := NewRegistry()
	r.Register(&OFXParser{})
	assert.Panics(t, func() { r.Register(&OFXParser{}) })
}

func TestDefaultRegistry(t *testing.T) {
	r := DefaultRegistry()
	assert.NotNil(t, r.Get("ofx"))
	assert.NotNil(t, r.Get("csv"))
	assert.NotNil(t, r.Get("xls"))
}

func TestScan_FindsStatements(t *testing.T) {
	dir := t.TempDir()
	importDir := filepath.Join(dir, "import")
	require.NoError(t, os.MkdirAll(importDir, 0o755))

	require.NoError(t, os.WriteFile(filepath.Join(importDir, "bank.csv"), []byte("data"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(importDir, "itau.OFX"), []byte("data"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(importDir, "other.txt"), []byte("data"), 0o644))

	files, err := Scan(dir)
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "bank.csv", files[0].Name)
	assert.Equal(t, "itau.OFX", files[1].Name)
}

func TestScan_IgnoresProcessedDir(t *testing.T) {
	dir := t.TempDir()
	importDir := filepath.Join(dir, "import")
	processedDir := filepath.Join(importDir, "processed")
	require.NoError(t, os.MkdirAll(processedDir, 0o755))

	require.NoError(t, os.WriteFile(filepath.Join(importDir, "new.csv"), []byte("data"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(processedDir, "old.csv"), []byte("data"), 0o644))

	files, err := Scan(dir)
	require.NoError(t, err)
	assert.Len(t, files, 1)
	assert.Equal(t, "new.csv", files[0].Name)
}

func TestScan_EmptyDir(t *testing.T) {
	dir := t.TempDir()
	files, err := Scan(dir)
	require.NoError(t, err)
	assert.Nil(t, files)
}

func TestMarkProcessed(t *testing.T) {
	dir := t.TempDir()
	importDir := filepath.Join(dir, "import")
	require.NoError(t, os.MkdirAll(importDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(importDir, "bank.csv"), []byte("data"), 0o644))

	err := MarkProcessed(dir, "bank.csv")
	require.NoError(t, err)

	// Source gone.
	_, err = os.Stat(filepath.Join(importDir, "bank.csv"))
	assert.True(t, os.IsNotExist(err))

	// Destination exists.
	_, err = os.Stat(filepath.Join(dir, "import", "processed", "bank.csv"))
	assert.NoError(t, err)
}

func TestMarkProcessed_CreatesDir(t *testing.T) {
	dir := t.TempDir()
	importDir := filepath.Join(dir, "import")
	require.NoError(t, os.MkdirAll(importDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(importDir, "a.csv"), []byte("data"), 0o644))

	err := MarkProcessed(dir, "a.csv")
	require.NoError(t, err)

	info, err := os.Stat(filepath.Join(dir, "import", "processed"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}
