package engine

import (
	"github.com/clrdbg/clrdbg-mcp/internal/value"
)

// metadataAdapter satisfies value.MetadataSource over a pdbModule,
// translating pdb's result shape into value's locally declared mirror
// types. This is the one place the two packages' independently-drawn
// interface boundaries meet.
type metadataAdapter struct {
	mod pdbModule
}

func (a *metadataAdapter) GetType(token uint32) (*value.TypeInfo, bool) {
	if a.mod == nil {
		return nil, false
	}
	t, ok := a.mod.GetType(token)
	if !ok {
		return nil, false
	}
	out := &value.TypeInfo{
		Name:      t.Name,
		Namespace: t.Namespace,
		BaseType:  t.BaseType,
		IsEnum:    t.IsEnum,
	}
	for _, f := range t.Fields {
		out.Fields = append(out.Fields, value.FieldInfo{Name: f.Name, IsStatic: f.IsStatic})
	}
	for _, p := range t.Properties {
		out.Properties = append(out.Properties, value.PropertyInfo{Name: p.Name})
	}
	return out, true
}

func (a *metadataAdapter) FormatEnumValue(typeToken uint32, val int64) string {
	if a.mod == nil {
		return ""
	}
	return a.mod.FormatEnumValue(typeToken, val)
}
