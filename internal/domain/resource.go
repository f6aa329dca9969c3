package domain

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/types/known/structpb"
)

// ResourceType — тип управляемого ресурса, который шлюз выдает агентам
type ResourceType string

const (
	ResourceContext ResourceType = "context" // Версионируемый блоб знаний/конфигурации
	ResourcePrompt  ResourceType = "prompt"  // Версионируемый шаблон инструкций
)

// ParseResourceType принимает значение из URL или RPC-конверта
func ParseResourceType(raw string) (ResourceType, error) {
	switch ResourceType(raw) {
	case ResourceContext, ResourcePrompt:
		return ResourceType(raw), nil
	default:
		return "", fmt.Errorf("unknown resource type %q", raw)
	}
}

// Classification — гриф содержимого ресурса (метаданные для комплаенса)
type Classification string

const (
	ClassPublic       Classification = "PUBLIC"
	ClassInternal     Classification = "INTERNAL"
	ClassConfidential Classification = "CONFIDENTIAL"
	ClassRestricted   Classification = "RESTRICTED"
)

// ResourceLink — явный грант "агент -> ресурс".
// Отсутствие записи = Default Deny, неявного доступа нет.
type ResourceLink struct {
	AgentID      string       `json:"agent_id"`
	ResourceType ResourceType `json:"resource_type"`
	ResourceName string       `json:"resource_name"`
}

// ResolvedResource — текущая одобренная версия ресурса из version store.
// Неизменяема в пределах VersionID; черновики сюда не попадают никогда.
type ResolvedResource struct {
	Type            ResourceType     `json:"resource_type"`
	Name            string           `json:"name"`
	VersionID       string           `json:"version_id"`
	Content         *structpb.Struct `json:"content"`
	Classification  Classification   `json:"classification"`
	RegulatoryHooks []string         `json:"regulatory_hooks,omitempty"`
}

// ContentFromJSON конвертирует JSONB из хранилища в protobuf-дерево.
// Путь конвертации единый для всего шлюза: bytes -> map -> structpb.
func ContentFromJSON(raw []byte) (*structpb.Struct, error) {
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal content: %w", err)
	}

	st, err := structpb.NewStruct(m)
	if err != nil {
		return nil, fmt.Errorf("failed to build content struct: %w", err)
	}
	return st, nil
}
