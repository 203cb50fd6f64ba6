package order

// Evaluate 判断订单在给定价格下是否触发。
// 限价买入与止损共用 price <= trigger，限价卖出为 price >= trigger。
func Evaluate(o Order, price float64) bool {
	if price <= 0 || o.TriggerPrice <= 0 {
		return false
	}
	switch o.Type {
	case TypeLimitBuy, TypeStopLoss:
		return price <= o.TriggerPrice
	case TypeLimitSell:
		return price >= o.TriggerPrice
	default:
		return false
	}
}
