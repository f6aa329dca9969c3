package domain

// Tier — категория операций, разделяющая общий rate-limit бюджет.
// Лимит тира одного caller-а не влияет ни на другие тиры, ни на других caller-ов.
type Tier string

const (
	TierDiscovery Tier = "discovery" // ping/health, без лимита
	TierList      Tier = "list"
	TierGet       Tier = "get"
	TierAudit     Tier = "audit"
	TierReports   Tier = "reports"
	TierRegister  Tier = "register"
)

// DefaultTierBudgets — бюджеты запросов в минуту. 0 = без лимита.
func DefaultTierBudgets() map[Tier]int {
	return map[Tier]int{
		TierDiscovery: 0,
		TierList:      30,
		TierGet:       60,
		TierAudit:     10,
		TierReports:   10,
		TierRegister:  5,
	}
}
