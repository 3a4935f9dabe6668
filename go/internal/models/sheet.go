package models

// Record is a flat field map as held by the cache. Values are always in
// canonical form: string, int or []string.
type Record map[string]any

// Clone returns a copy of the record. List values are copied too.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		if list, ok := v.([]string); ok {
			cp := make([]string, len(list))
			copy(cp, list)
			out[k] = cp
			continue
		}
		out[k] = v
	}
	return out
}

// Sheet field names as they appear on the wire.
const (
	FieldNome            = "nome"
	FieldVida            = "vida"
	FieldMana            = "mana"
	FieldTipo            = "tipo"
	FieldAtributo        = "atributo"
	FieldInventario      = "inventario"
	FieldUltimoResultado = "ultimoResultado"
	FieldHistorico       = "historico"
	FieldAcoes           = "acoes"
)

// MaxHistory is the number of roll results kept in a sheet's historico.
const MaxHistory = 3

// Tipo is the character category.
type Tipo string

const (
	TipoCombatente Tipo = "Combatente"
	TipoConjurador Tipo = "Conjurador"
)

// Atributo is the character's main attribute.
type Atributo string

const (
	AtributoForca     Atributo = "Força"
	AtributoDestreza  Atributo = "Destreza"
	AtributoIntelecto Atributo = "Intelecto"
	AtributoVigor     Atributo = "Vigor"
)

var (
	validTipos     = map[string]bool{string(TipoCombatente): true, string(TipoConjurador): true}
	validAtributos = map[string]bool{
		string(AtributoForca):     true,
		string(AtributoDestreza):  true,
		string(AtributoIntelecto): true,
		string(AtributoVigor):     true,
	}
)

// FieldKind describes how a sheet field is normalized.
type FieldKind int

const (
	KindString FieldKind = iota
	KindInt
	KindEnum
	KindList
)

// FieldSpec describes one known sheet field.
type FieldSpec struct {
	Name    string
	Kind    FieldKind
	Default any
	// Allowed is set for KindEnum fields.
	Allowed map[string]bool
}

// SheetFields lists every known sheet field in wire order.
var SheetFields = []FieldSpec{
	{Name: FieldNome, Kind: KindString, Default: ""},
	{Name: FieldVida, Kind: KindInt, Default: 10},
	{Name: FieldMana, Kind: KindInt, Default: 5},
	{Name: FieldTipo, Kind: KindEnum, Default: string(TipoCombatente), Allowed: validTipos},
	{Name: FieldAtributo, Kind: KindEnum, Default: string(AtributoForca), Allowed: validAtributos},
	{Name: FieldInventario, Kind: KindString, Default: ""},
	{Name: FieldUltimoResultado, Kind: KindString, Default: ""},
	{Name: FieldHistorico, Kind: KindList, Default: []string{}},
	{Name: FieldAcoes, Kind: KindInt, Default: 0},
}

var sheetFieldIndex = func() map[string]FieldSpec {
	m := make(map[string]FieldSpec, len(SheetFields))
	for _, f := range SheetFields {
		m[f.Name] = f
	}
	return m
}()

// LookupField returns the spec of a known sheet field.
func LookupField(name string) (FieldSpec, bool) {
	f, ok := sheetFieldIndex[name]
	return f, ok
}

// MasterOnlyFields are the sheet fields only the master adjusts.
var MasterOnlyFields = map[string]bool{FieldAcoes: true}

// DefaultSheet returns a sheet record with every known field at its default.
func DefaultSheet() Record {
	r := make(Record, len(SheetFields))
	for _, f := range SheetFields {
		if f.Kind == KindList {
			r[f.Name] = []string{}
			continue
		}
		r[f.Name] = f.Default
	}
	return r
}

// Sheet is a typed view over a sheet record.
type Sheet struct {
	OwnerID         string
	Nome            string
	Vida            int
	Mana            int
	Tipo            Tipo
	Atributo        Atributo
	Inventario      string
	UltimoResultado string
	Historico       []string
	Acoes           int
}

// SheetFromRecord builds the typed view. Missing fields take defaults.
func SheetFromRecord(ownerID string, r Record) Sheet {
	s := Sheet{
		OwnerID:         ownerID,
		Nome:            stringField(r, FieldNome),
		Vida:            intField(r, FieldVida),
		Mana:            intField(r, FieldMana),
		Tipo:            Tipo(stringField(r, FieldTipo)),
		Atributo:        Atributo(stringField(r, FieldAtributo)),
		Inventario:      stringField(r, FieldInventario),
		UltimoResultado: stringField(r, FieldUltimoResultado),
		Acoes:           intField(r, FieldAcoes),
	}
	if list, ok := r[FieldHistorico].([]string); ok {
		s.Historico = append([]string{}, list...)
	} else {
		s.Historico = []string{}
	}
	return s
}

func stringField(r Record, name string) string {
	if v, ok := r[name].(string); ok {
		return v
	}
	if f, ok := LookupField(name); ok {
		if d, ok := f.Default.(string); ok {
			return d
		}
	}
	return ""
}

func intField(r Record, name string) int {
	if v, ok := r[name].(int); ok {
		return v
	}
	if f, ok := LookupField(name); ok {
		if d, ok := f.Default.(int); ok {
			return d
		}
	}
	return 0
}
