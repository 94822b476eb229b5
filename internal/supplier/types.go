package supplier

import (
	"fmt"
	"strings"
)

// APIError: ответ error_response от API поставщика.
type APIError struct {
	Code      string `json:"code"`
	Message   string `json:"msg"`
	SubCode   string `json:"sub_code,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

func (e *APIError) Error() string {
	if e.SubCode != "" {
		return fmt.Sprintf("supplier api error %s/%s: %s", e.Code, e.SubCode, e.Message)
	}
	return fmt.Sprintf("supplier api error %s: %s", e.Code, e.Message)
}

type orderResult struct {
	OrderStatus       string `json:"order_status" validate:"required"`
	LogisticsStatus   string `json:"logistics_status"`
	TrackingNumber    string `json:"tracking_number"`
	LogisticsInfoList struct {
		Items []logisticsInfo `json:"ae_order_logistics_info" validate:"dive"`
	} `json:"logistics_info_list"`
	ChildOrderList struct {
		Items []childOrder `json:"ae_child_order_info"`
	} `json:"child_order_list"`
}

type logisticsInfo struct {
	LogisticsNo      string `json:"logistics_no" validate:"max=128"`
	LogisticsService string `json:"logistics_service"`
}

type childOrder struct {
	EndReason    string `json:"end_reason"`
	OrderStatus  string `json:"order_status"`
	ProductCount int    `json:"product_count"`
}

type trackingResult struct {
	Ret  bool `json:"ret"`
	Data struct {
		Lines struct {
			Items []trackingLine `json:"tracking_detail"`
		} `json:"tracking_detail_line_list"`
	} `json:"data"`
}

type trackingLine struct {
	CarrierName string `json:"carrier_name"`
	MailNo      string `json:"mail_no"`
	Nodes       struct {
		Items []trackingNode `json:"detail_node"`
	} `json:"detail_node_list"`
}

type trackingNode struct {
	Name        string `json:"tracking_name"`
	Description string `json:"tracking_detail_desc"`
	TimeStamp   int64  `json:"time_stamp"`
}

// OrderInfo: нормализованный ответ о заказе поставщика.
type OrderInfo struct {
	SupplierOrderID string
	Status          string
	LogisticsStatus string
	TrackingNumber  string
	Carrier         string
	// EndReasons: причины завершения подзаказов в порядке ответа.
	EndReasons []string
}

// EndReason выбирает причину завершения, влияющую на категорию:
// сначала известная причина отмены, затем любая непустая.
func (o OrderInfo) EndReason() string {
	var firstNonEmpty string
	for _, raw := range o.EndReasons {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		if firstNonEmpty == "" {
			firstNonEmpty = raw
		}
		if category, ok := classifyEndReason(NormalizeEndReason(raw)); ok && IsCancellation(category) {
			return raw
		}
	}
	return firstNonEmpty
}

// Milestone: отметка трекинга.
type Milestone struct {
	Name        string
	Description string
	TimeStamp   int64
}

// TrackingInfo: нормализованный ответ трекинга. Milestones идут от самой свежей.
type TrackingInfo struct {
	TrackingNumber string
	Carrier        string
	Milestones     []Milestone
}

// deliveredMarkers: подстроки названий отметок, означающих вручение, на языках площадки.
var deliveredMarkers = []string{
	"delivered",
	"received",
	"entregado",
	"entregue",
	"livré",
	"zugestellt",
	"consegnato",
	"доставлен",
	"получен",
	"вручен",
	"签收",
}

// Delivered сообщает, что самая свежая отметка означает вручение.
// Проверяется только последняя отметка: ранние "received by carrier" не считаются доставкой.
func (t TrackingInfo) Delivered() bool {
	if len(t.Milestones) == 0 {
		return false
	}
	latest := strings.ToLower(t.Milestones[0].Name)
	for _, marker := range deliveredMarkers {
		if strings.Contains(latest, marker) {
			return true
		}
	}
	return false
}
