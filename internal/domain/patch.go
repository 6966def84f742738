package domain

import "strings"

// OrderField: имя обновляемой колонки заказа.
type OrderField string

const (
	FieldOrderNo        OrderField = "order_no"
	FieldTrackingNumber OrderField = "tracking_number"
	FieldStatus         OrderField = "status"
	FieldBuyerName      OrderField = "buyer_name"
	FieldBuyerPhone     OrderField = "buyer_phone"
	FieldAddress        OrderField = "address"
)

// UpdatableFields: полный список полей, которые разрешено менять.
// product_id и created_at сюда не входят и не меняются никогда.
var UpdatableFields = []OrderField{
	FieldOrderNo,
	FieldTrackingNumber,
	FieldStatus,
	FieldBuyerName,
	FieldBuyerPhone,
	FieldAddress,
}

// OrderPatch описывает частичное обновление заказа.
// nil-поле не меняется; пустая строка в OrderNo/TrackingNumber сбрасывает значение в NULL.
type OrderPatch struct {
	ProductID      string
	OrderNo        *string
	TrackingNumber *string
	Status         *OrderStatus
	BuyerName      *string
	BuyerPhone     *string
	Address        *string
}

// FieldAssignment: пара «колонка = значение» для SQL-реализаций.
type FieldAssignment struct {
	Field OrderField
	Value any
}

// Empty сообщает, что патч не содержит ни одного разрешённого поля.
func (p OrderPatch) Empty() bool {
	return len(p.Assignments()) == 0
}

// Validate проверяет патч до обращения к хранилищу.
func (p OrderPatch) Validate() error {
	if strings.TrimSpace(p.ProductID) == "" {
		return ErrProductIDRequired
	}
	if p.Empty() {
		return ErrNoUpdatableFields
	}
	if p.Status != nil && !p.Status.Valid() {
		return ErrStatusInvalid
	}
	return nil
}

// Assignments возвращает присваивания в фиксированном порядке UpdatableFields.
func (p OrderPatch) Assignments() []FieldAssignment {
	out := make([]FieldAssignment, 0, len(UpdatableFields))
	if p.OrderNo != nil {
		out = append(out, FieldAssignment{Field: FieldOrderNo, Value: nullableValue(*p.OrderNo)})
	}
	if p.TrackingNumber != nil {
		out = append(out, FieldAssignment{Field: FieldTrackingNumber, Value: nullableValue(*p.TrackingNumber)})
	}
	if p.Status != nil {
		out = append(out, FieldAssignment{Field: FieldStatus, Value: string(*p.Status)})
	}
	if p.BuyerName != nil {
		out = append(out, FieldAssignment{Field: FieldBuyerName, Value: *p.BuyerName})
	}
	if p.BuyerPhone != nil {
		out = append(out, FieldAssignment{Field: FieldBuyerPhone, Value: *p.BuyerPhone})
	}
	if p.Address != nil {
		out = append(out, FieldAssignment{Field: FieldAddress, Value: *p.Address})
	}
	return out
}

// Apply применяет патч к копии заказа.
func (p OrderPatch) Apply(o Order) Order {
	if p.OrderNo != nil {
		o.OrderNo = nullIfEmpty(*p.OrderNo)
	}
	if p.TrackingNumber != nil {
		o.TrackingNumber = nullIfEmpty(*p.TrackingNumber)
	}
	if p.Status != nil {
		o.Status = *p.Status
	}
	if p.BuyerName != nil {
		o.BuyerName = *p.BuyerName
	}
	if p.BuyerPhone != nil {
		o.BuyerPhone = *p.BuyerPhone
	}
	if p.Address != nil {
		o.Address = *p.Address
	}
	return o
}

// Fields возвращает имена затронутых полей (для логов и событий).
func (p OrderPatch) Fields() []string {
	assignments := p.Assignments()
	out := make([]string, 0, len(assignments))
	for _, a := range assignments {
		out = append(out, string(a.Field))
	}
	return out
}

func nullableValue(s string) any {
	if s == "" {
		return nil
	}
	return s
}
