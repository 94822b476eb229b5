package supplier

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderrecon/internal/domain"
)

// RemoteStatus: статус заказа в словаре поставщика.
type RemoteStatus string

const (
	StatusPlaceOrderSuccess      RemoteStatus = "PLACE_ORDER_SUCCESS"
	StatusPaymentProcessing      RemoteStatus = "PAYMENT_PROCESSING"
	StatusWaitSellerExamineMoney RemoteStatus = "WAIT_SELLER_EXAMINE_MONEY"
	StatusWaitSellerSendGoods    RemoteStatus = "WAIT_SELLER_SEND_GOODS"
	StatusSellerPartSendGoods    RemoteStatus = "SELLER_PART_SEND_GOODS"
	StatusWaitBuyerAcceptGoods   RemoteStatus = "WAIT_BUYER_ACCEPT_GOODS"
	StatusFundProcessing         RemoteStatus = "FUND_PROCESSING"
	StatusFinish                 RemoteStatus = "FINISH"
	StatusInCancel               RemoteStatus = "IN_CANCEL"
	StatusCancelled              RemoteStatus = "CANCELLED"
	StatusClosed                 RemoteStatus = "CLOSED"
	StatusInIssue                RemoteStatus = "IN_ISSUE"
	StatusInFrozen               RemoteStatus = "IN_FROZEN"
	StatusRiskControl            RemoteStatus = "RISK_CONTROL"
)

// KnownStatuses перечисляет все статусы, для которых есть явное сопоставление.
var KnownStatuses = []RemoteStatus{
	StatusPlaceOrderSuccess,
	StatusPaymentProcessing,
	StatusWaitSellerExamineMoney,
	StatusWaitSellerSendGoods,
	StatusSellerPartSendGoods,
	StatusWaitBuyerAcceptGoods,
	StatusFundProcessing,
	StatusFinish,
	StatusInCancel,
	StatusCancelled,
	StatusClosed,
	StatusInIssue,
	StatusInFrozen,
	StatusRiskControl,
}

// EndReason: причина завершения подзаказа у поставщика.
type EndReason string

const (
	EndReasonNone                   EndReason = ""
	EndReasonBuyerCancel            EndReason = "BUYER_CANCEL"
	EndReasonBuyerCancelNotPay      EndReason = "BUYER_CANCEL_NOTPAY_ORDER"
	EndReasonBuyerCancelOrder       EndReason = "BUYER_CANCEL_ORDER"
	EndReasonSellerCancel           EndReason = "SELLER_CANCEL"
	EndReasonSellerCancelOrder      EndReason = "SELLER_CANCEL_ORDER"
	EndReasonSellerNotEnoughStock   EndReason = "SELLER_NOT_ENOUGH_STOCK"
	EndReasonPayTimeout             EndReason = "PAY_TIMEOUT"
	EndReasonPayTimeoutCancel       EndReason = "PAY_TIMEOUT_CANCEL"
	EndReasonSellerSendGoodsTimeout EndReason = "SELLER_SEND_GOODS_TIMEOUT"
	EndReasonCancelOrderCloseTrade  EndReason = "CANCEL_ORDER_CLOSE_TRADE"
	EndReasonRiskReject             EndReason = "RISK_REJECT"
	EndReasonRiskRejectClosed       EndReason = "RISK_REJECT_CLOSED"
	EndReasonRefundSuccess          EndReason = "REFUND_SUCCESS"
	EndReasonFullRefund             EndReason = "FULL_REFUND"
	EndReasonDisputeRefund          EndReason = "DISPUTE_REFUND"
	EndReasonDisputeClosed          EndReason = "DISPUTE_CLOSED"
	EndReasonIssueRefund            EndReason = "ISSUE_REFUND"
	EndReasonBuyerAcceptGoods       EndReason = "BUYER_ACCEPT_GOODS"
	EndReasonBuyerAcceptTimeout     EndReason = "BUYER_ACCEPT_GOODS_TIMEOUT"
)

// KnownEndReasons перечисляет все непустые причины завершения с явным сопоставлением.
var KnownEndReasons = []EndReason{
	EndReasonBuyerCancel,
	EndReasonBuyerCancelNotPay,
	EndReasonBuyerCancelOrder,
	EndReasonSellerCancel,
	EndReasonSellerCancelOrder,
	EndReasonSellerNotEnoughStock,
	EndReasonPayTimeout,
	EndReasonPayTimeoutCancel,
	EndReasonSellerSendGoodsTimeout,
	EndReasonCancelOrderCloseTrade,
	EndReasonRiskReject,
	EndReasonRiskRejectClosed,
	EndReasonRefundSuccess,
	EndReasonFullRefund,
	EndReasonDisputeRefund,
	EndReasonDisputeClosed,
	EndReasonIssueRefund,
	EndReasonBuyerAcceptGoods,
	EndReasonBuyerAcceptTimeout,
}

var unmappedCodesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "recon_supplier_unmapped_codes_total",
	Help: "Total number of supplier status or end reason codes without an explicit mapping.",
}, []string{"kind"})

// NormalizeStatus приводит сырой статус к виду констант RemoteStatus.
func NormalizeStatus(raw string) RemoteStatus {
	return RemoteStatus(strings.ToUpper(strings.TrimSpace(raw)))
}

// NormalizeEndReason приводит сырую причину к виду констант EndReason.
func NormalizeEndReason(raw string) EndReason {
	return EndReason(strings.ToUpper(strings.TrimSpace(raw)))
}

// classifyStatus сопоставляет статус заказа поставщика категории.
func classifyStatus(s RemoteStatus) (domain.Category, bool) {
	switch s {
	case StatusPlaceOrderSuccess, StatusPaymentProcessing:
		return domain.CategoryPending, true
	case StatusWaitSellerExamineMoney, StatusWaitSellerSendGoods:
		return domain.CategoryProcessing, true
	case StatusSellerPartSendGoods, StatusWaitBuyerAcceptGoods:
		return domain.CategoryShipped, true
	case StatusFundProcessing, StatusFinish:
		return domain.CategoryDelivered, true
	case StatusInCancel, StatusCancelled, StatusClosed:
		return domain.CategoryCancelled, true
	case StatusInIssue, StatusInFrozen, StatusRiskControl:
		return domain.CategoryOnHold, true
	default:
		return domain.CategoryProcessing, false
	}
}

// classifyEndReason сопоставляет причину завершения категории.
// ok=false для пустой или неизвестной причины.
func classifyEndReason(r EndReason) (domain.Category, bool) {
	switch r {
	case EndReasonBuyerCancel, EndReasonBuyerCancelNotPay, EndReasonBuyerCancelOrder,
		EndReasonSellerCancel, EndReasonSellerCancelOrder, EndReasonSellerNotEnoughStock,
		EndReasonPayTimeout, EndReasonPayTimeoutCancel, EndReasonSellerSendGoodsTimeout,
		EndReasonCancelOrderCloseTrade, EndReasonRiskReject, EndReasonRiskRejectClosed,
		EndReasonRefundSuccess, EndReasonFullRefund,
		EndReasonDisputeRefund, EndReasonDisputeClosed, EndReasonIssueRefund:
		return domain.CategoryCancelled, true
	case EndReasonBuyerAcceptGoods, EndReasonBuyerAcceptTimeout:
		return domain.CategoryDelivered, true
	default:
		return "", false
	}
}

// Classify: чистая тотальная функция сопоставления. Причина завершения важнее статуса:
// верхнеуровневый статус поставщика может отставать от подзаказа.
// Для неизвестного статуса возвращает (PROCESSING, false).
func Classify(rawStatus, rawEndReason string) (domain.Category, bool) {
	status := NormalizeStatus(rawStatus)
	reason := NormalizeEndReason(rawEndReason)

	statusCategory, statusKnown := classifyStatus(status)
	if reason == EndReasonNone {
		return statusCategory, statusKnown
	}

	if reasonCategory, ok := classifyEndReason(reason); ok {
		return reasonCategory, true
	}
	return statusCategory, false
}

// MapRemoteStatus сопоставляет статус и пишет в лог неизвестные коды.
func MapRemoteStatus(rawStatus, rawEndReason string) domain.Category {
	category, known := Classify(rawStatus, rawEndReason)
	if known {
		return category
	}

	fields := log.Fields{"status": rawStatus, "end_reason": rawEndReason, "mapped_to": category}
	if _, ok := classifyStatus(NormalizeStatus(rawStatus)); !ok {
		unmappedCodesTotal.WithLabelValues("status").Inc()
	} else {
		unmappedCodesTotal.WithLabelValues("end_reason").Inc()
	}
	log.WithField("component", "supplier-status").WithFields(fields).Warn("unmapped supplier status code")
	return category
}

// IsCancellation сообщает, что категория означает отмену на стороне поставщика.
func IsCancellation(c domain.Category) bool {
	return c == domain.CategoryCancelled
}
