package i18n

import (
	"reflect"
	"sync"
)

// Language type
type Language string

const (
	LangEN Language = "en"
	LangZH Language = "zh"
)

// Messages holds all translatable strings
type Messages struct {
	// System
	Starting           string
	ConfigLoaded       string
	UsingDBPath        string
	ShuttingDown       string
	SystemMetricsInit  string
	ConfigLoadFailed   string
	DBInitFailed       string
	DBMigrationsFailed string
	APIServerError     string

	// Simulator
	TickerConfigLoadFailed string
	TickerSyncFailed       string
	TickerSeeded           string
	SimulatorStarted       string
	SimulatorDisabled      string
	BarGenerated           string
	BarGenerateFailed      string

	// Orders
	OrderFilled          string
	OrderRejected        string
	OrderPendingApproval string
	OrderCancelled       string
	OrderApproved        string
	WorkingOrderTrigger  string
	WorkingEvalFailed    string

	// Cash / holds
	HoldPlaced          string
	HoldReleased        string
	InsufficientFunds   string
	InsufficientHolding string

	// Groups
	GroupCreated       string
	GroupDeleted       string
	GroupCascadeCancel string

	// Reconciliation
	ReconStarted       string
	ReconCashMismatch  string
	ReconShortPosition string
	ReconFillMismatch  string
	ReconPassFailed    string
}

var (
	mu          sync.RWMutex
	currentLang Language
	messages    *Messages
)

// English messages
var messagesEN = Messages{
	// System
	Starting:           "Starting paper trading core...",
	ConfigLoaded:       "Config loaded (Port: %s)",
	UsingDBPath:        "Using DB path: %s",
	ShuttingDown:       "Shutting down gracefully...",
	SystemMetricsInit:  "System metrics initialized",
	ConfigLoadFailed:   "Failed to load config: %v",
	DBInitFailed:       "Failed to init database: %v",
	DBMigrationsFailed: "Failed to apply migrations: %v",
	APIServerError:     "API server error: %v",

	// Simulator
	TickerConfigLoadFailed: "Failed to load tickers.yaml: %v",
	TickerSyncFailed:       "Failed to sync tickers to DB: %v",
	TickerSeeded:           "Seeded %d bars for %s (start price %.2f)",
	SimulatorStarted:       "Price simulator started (%d tickers, tick every %v)",
	SimulatorDisabled:      "Price simulator tick loop disabled",
	BarGenerated:           "Bar generated: %s close=%.2f",
	BarGenerateFailed:      "Failed to generate bar for %s: %v",

	// Orders
	OrderFilled:          "Order %s filled: %s %s %.4f @ %.2f",
	OrderRejected:        "Order %s rejected: %s",
	OrderPendingApproval: "Order %s pending approval (account %s)",
	OrderCancelled:       "Order %s cancelled by %s",
	OrderApproved:        "Order %s approved by %s",
	WorkingOrderTrigger:  "Working order %s triggered at %.2f",
	WorkingEvalFailed:    "Working order evaluation failed for %s: %v",

	// Cash / holds
	HoldPlaced:          "Hold placed: account %s order %s notional %.2f",
	HoldReleased:        "Hold released: order %s",
	InsufficientFunds:   "Insufficient funds: need %.2f, have %.2f",
	InsufficientHolding: "Insufficient position: selling %.4f, holding %.4f",

	// Groups
	GroupCreated:       "Group %s created with trading account %s",
	GroupDeleted:       "Group %s deleted",
	GroupCascadeCancel: "Cancelled %d open orders for deleted group %s",

	// Reconciliation
	ReconStarted:       "Reconciliation service started",
	ReconCashMismatch:  "Reconciliation: cash mismatch on account %s (ledger %.2f, reported %.2f)",
	ReconShortPosition: "Reconciliation: negative position %s %s (%.4f) with shorting disabled",
	ReconFillMismatch:  "Reconciliation: order %s FILLED with %d fills",
	ReconPassFailed:    "Reconciliation pass failed: %v",
}

// Chinese messages
var messagesZH = Messages{
	// System
	Starting:           "啟動模擬交易核心...",
	ConfigLoaded:       "設定已載入（埠號：%s）",
	UsingDBPath:        "使用資料庫路徑：%s",
	ShuttingDown:       "正在優雅關閉...",
	SystemMetricsInit:  "系統指標初始化完成",
	ConfigLoadFailed:   "讀取設定失敗：%v",
	DBInitFailed:       "初始化資料庫失敗：%v",
	DBMigrationsFailed: "套用資料庫遷移失敗：%v",
	APIServerError:     "API 伺服器錯誤：%v",

	// Simulator
	TickerConfigLoadFailed: "讀取 tickers.yaml 失敗：%v",
	TickerSyncFailed:       "同步商品到資料庫失敗：%v",
	TickerSeeded:           "已回補 %d 根 K 線：%s（起始價 %.2f）",
	SimulatorStarted:       "價格模擬器已啟動（%d 檔商品，每 %v 一跳）",
	SimulatorDisabled:      "價格模擬器排程已停用",
	BarGenerated:           "K 線已產生：%s 收盤=%.2f",
	BarGenerateFailed:      "產生 %s 的 K 線失敗：%v",

	// Orders
	OrderFilled:          "訂單 %s 已成交：%s %s %.4f @ %.2f",
	OrderRejected:        "訂單 %s 已拒絕：%s",
	OrderPendingApproval: "訂單 %s 等待審批（帳戶 %s）",
	OrderCancelled:       "訂單 %s 已由 %s 取消",
	OrderApproved:        "訂單 %s 已由 %s 核准",
	WorkingOrderTrigger:  "掛單 %s 於 %.2f 觸發",
	WorkingEvalFailed:    "評估 %s 的掛單失敗：%v",

	// Cash / holds
	HoldPlaced:          "資金預留：帳戶 %s 訂單 %s 金額 %.2f",
	HoldReleased:        "資金預留已釋放：訂單 %s",
	InsufficientFunds:   "餘額不足：需求 %.2f，現有 %.2f",
	InsufficientHolding: "持倉不足：賣出 %.4f，持有 %.4f",

	// Groups
	GroupCreated:       "群組 %s 已建立，交易帳戶為 %s",
	GroupDeleted:       "群組 %s 已刪除",
	GroupCascadeCancel: "已取消 %d 筆未結訂單（群組 %s 已刪除）",

	// Reconciliation
	ReconStarted:       "對帳服務已啟動",
	ReconCashMismatch:  "對帳：帳戶 %s 現金不一致（帳本 %.2f，回報 %.2f）",
	ReconShortPosition: "對帳：停用放空時出現負持倉 %s %s（%.4f）",
	ReconFillMismatch:  "對帳：訂單 %s 狀態 FILLED 但成交筆數為 %d",
	ReconPassFailed:    "對帳執行失敗：%v",
}

func init() {
	messages = &messagesEN
}

// SetLanguage sets the current language
func SetLanguage(lang Language) {
	mu.Lock()
	defer mu.Unlock()

	currentLang = lang
	switch lang {
	case LangZH:
		messages = &messagesZH
	default:
		messages = &messagesEN
	}
}

// GetLanguage returns the current language
func GetLanguage() Language {
	mu.RLock()
	defer mu.RUnlock()
	return currentLang
}

// M returns the current messages
func M() *Messages {
	mu.RLock()
	defer mu.RUnlock()
	return messages
}

// Get returns specific message by key dynamically using reflection
func Get(key string) string {
	msg := M()
	v := reflect.ValueOf(msg).Elem()
	f := v.FieldByName(key)
	if f.IsValid() && f.Kind() == reflect.String {
		return f.String()
	}
	return key
}
