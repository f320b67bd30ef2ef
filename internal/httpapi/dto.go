package httpapi

type RegisterRequest struct {
	StaffID    int64  `json:"staff_id"`
	LocationID int64  `json:"location_id"`
	StaffUUID  string `json:"staff_uuid"`
}

type RegistrationResponse struct {
	StaffID    int64  `json:"staff_id"`
	LocationID int64  `json:"location_id"`
	StaffUUID  string `json:"staff_uuid"`
}

type DecisionResponse struct {
	OrderID     string `json:"order_id"`
	Outcome     string `json:"outcome"`
	ProductName string `json:"product_name"`
	Refund      string `json:"refund,omitempty"`
	DecidedBy   int64  `json:"decided_by"`
}

type OrderResponse struct {
	OrderID     string              `json:"order_id"`
	State       string              `json:"state"`
	ProductName string              `json:"product_name,omitempty"`
	LocationID  int64               `json:"location_id,omitempty"`
	Decision    *DecisionResponse   `json:"decision,omitempty"`
	Copies      []DeliveredCopyItem `json:"copies"`
}

type DeliveredCopyItem struct {
	Recipient int64 `json:"recipient"`
	MessageID int   `json:"message_id"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
