package render

/*
Пакет render подставляет {{placeholder}} токены в дерево содержимого ресурса.

Правила подстановки — часть внешнего контракта:
  - заменяются только строковые листья; числа/булевы проходят без изменений;
  - токен без значения в карте остается в тексте как есть — частично
    параметризованный шаблон должен оставаться диагностируемым;
  - один проход: значение переменной, содержащее "{{...}}", повторно
    не раскрывается (иначе инъекция через значение переменной).
*/

import (
	"regexp"

	"google.golang.org/protobuf/types/known/structpb"
)

// Токен: {{key}}, допускаем пробелы вокруг имени
var placeholderRe = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.\-]+)\s*\}\}`)

// Interpolate возвращает новое дерево с подставленными переменными.
// Исходный Struct не мутируется: версия ресурса неизменяема.
func Interpolate(content *structpb.Struct, variables map[string]string) *structpb.Struct {
	if content == nil {
		return nil
	}
	if len(variables) == 0 {
		return content
	}
	return renderStruct(content, variables)
}

func renderStruct(st *structpb.Struct, vars map[string]string) *structpb.Struct {
	out := &structpb.Struct{Fields: make(map[string]*structpb.Value, len(st.GetFields()))}
	for k, v := range st.GetFields() {
		out.Fields[k] = renderValue(v, vars)
	}
	return out
}

func renderValue(v *structpb.Value, vars map[string]string) *structpb.Value {
	switch kind := v.GetKind().(type) {
	case *structpb.Value_StringValue:
		return structpb.NewStringValue(renderString(kind.StringValue, vars))
	case *structpb.Value_StructValue:
		return structpb.NewStructValue(renderStruct(kind.StructValue, vars))
	case *structpb.Value_ListValue:
		items := kind.ListValue.GetValues()
		out := make([]*structpb.Value, len(items))
		for i, item := range items {
			out[i] = renderValue(item, vars)
		}
		return structpb.NewListValue(&structpb.ListValue{Values: out})
	default:
		// Числа, булевы, null — без изменений
		return v
	}
}

// renderString делает ровно один проход по исходной строке.
// ReplaceAllStringFunc не пересканирует подставленные значения,
// что и дает защиту от вложенного {{ {{x}} }} раскрытия.
func renderString(s string, vars map[string]string) string {
	return placeholderRe.ReplaceAllStringFunc(s, func(match string) string {
		key := placeholderRe.FindStringSubmatch(match)[1]
		if val, ok := vars[key]; ok {
			return val
		}
		return match // Неизвестный токен остается как есть
	})
}
