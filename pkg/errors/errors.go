package errors

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"

	log "github.com/sirupsen/logrus"
)

// Code is the type representing a namespace error code.
type Code[MT any] struct {
	Code       uint16
	Name       string
	HTTPStatus int
}

// New creates a new error with the given code and the message
func (c Code[MT]) New(msg string, args ...any) TypedError[MT] {
	return &ErrorImpl[MT]{
		code:  c,
		cause: fmt.Errorf(msg, args...),
	}
}

// Wrap creates a new Error with the given code and the cause error
func (c Code[MT]) Wrap(cause error) TypedError[MT] {
	return &ErrorImpl[MT]{
		code:  c,
		cause: cause,
	}
}

func (c Code[MT]) String() string {
	return fmt.Sprintf("%s (%d)", c.Name, c.Code)
}

// Is reports whether err is an Error carrying this code.
func (c Code[MT]) Is(err error) bool {
	if err == nil {
		return false
	}
	e, ok := err.(Error)
	if !ok {
		return false
	}
	return e.Code() == c.Code
}

type Error interface {
	error
	Log() *log.Entry
	Code() uint16
	CodeName() string
	HTTPStatus() int
	Metadata() map[string]string
}

type TypedError[MT any] interface {
	Error
	WithMetadata(MT) TypedError[MT]
}

// ErrorImpl is the default concrete implementation of TypedError.
type ErrorImpl[MT any] struct {
	code     Code[MT]
	cause    error
	metadata MT
}

func (e *ErrorImpl[MT]) Log() *log.Entry {
	return log.WithField("name", e.code.Name).
		WithField("code", e.code.Code).
		WithField("metadata", e.metadata)
}

func (e *ErrorImpl[MT]) Metadata() map[string]string {
	// convert any metadata to map[string]string
	metadata := make(map[string]string)
	buf, err := json.Marshal(e.metadata)
	if err == nil {
		var genericMap map[string]any
		dec := json.NewDecoder(bytes.NewReader(buf))
		dec.UseNumber()
		if err := dec.Decode(&genericMap); err == nil {
			for k, v := range genericMap {
				vStr := ""
				if v != nil {
					vStr = fmt.Sprintf("%v", v)
				}
				metadata[k] = vStr
			}
		}
	}
	return metadata
}

func (e *ErrorImpl[MT]) HTTPStatus() int {
	return e.code.HTTPStatus
}

func (e *ErrorImpl[MT]) Code() uint16 {
	return e.code.Code
}

func (e *ErrorImpl[MT]) CodeName() string {
	return e.code.Name
}

// Error() implements the error interface.
func (e *ErrorImpl[MT]) Error() string {
	return fmt.Sprintf("%s: %s", e.code.String(), e.cause.Error())
}

func (e *ErrorImpl[MT]) Unwrap() error {
	return e.cause
}

func (e *ErrorImpl[MT]) WithMetadata(metadata MT) TypedError[MT] {
	e.metadata = metadata
	return e
}

type DistributionStateMetadata struct {
	CurrentState  string   `json:"current_state"`
	ExpectedState []string `json:"expected_state"`
}

type WeeklyMarkerMetadata struct {
	LastDistributionTime int64 `json:"last_distribution_time"`
	StartOfWeek          int64 `json:"start_of_week"`
}

type ReadResponseMetadata struct {
	RequestID         string `json:"request_id"`
	ResponseTimestamp int64  `json:"response_timestamp"`
	Now               int64  `json:"now"`
	MaxDelay          int64  `json:"max_delay"`
}

type InvalidReadResponseMetadata struct {
	ExpectedLength int `json:"expected_length"`
	GotLength      int `json:"got_length"`
}

type UnknownRequestMetadata struct {
	ExpectedRequestID string `json:"expected_request_id"`
	GotRequestID      string `json:"got_request_id"`
}

type BridgedAmountMetadata struct {
	RequiredFeeAmount string `json:"required_fee_amount"`
	OriginalBalance   string `json:"original_balance"`
	MinFeeReceived    string `json:"min_fee_received"`
	CurrentBalance    string `json:"current_balance"`
}

type BridgeAmountTooHighMetadata struct {
	RequiredFeeAmount string `json:"required_fee_amount"`
	SettledBalance    string `json:"settled_balance"`
	TotalSent         string `json:"total_sent"`
}

type ThresholdMetadata struct {
	Token     string `json:"token,omitempty"`
	Amount    string `json:"amount"`
	Threshold string `json:"threshold"`
}

type TreasuryShortfallMetadata struct {
	Shortfall    string `json:"shortfall"`
	MaxShortfall string `json:"max_shortfall"`
	ForTreasury  string `json:"for_treasury"`
}

type ArrayMismatchMetadata struct {
	ExpectedLength int `json:"expected_length"`
	GotLength      int `json:"got_length"`
}

type BatchSizeMetadata struct {
	BatchSize    int `json:"batch_size"`
	MaxBatchSize int `json:"max_batch_size"`
}

type ReportNotFoundMetadata struct {
	CycleID string `json:"cycle_id"`
}

type PermissionMetadata struct {
	Route string `json:"route"`
}

type InvalidParamsMetadata struct {
	Field string `json:"field"`
}

var INTERNAL_ERROR = Code[map[string]any]{0, "INTERNAL_ERROR", http.StatusInternalServerError}
var INVALID_DISTRIBUTION_STATE = Code[DistributionStateMetadata]{
	1,
	"INVALID_DISTRIBUTION_STATE",
	http.StatusConflict,
}
var FEE_DISTRIBUTION_ALREADY_COMPLETED = Code[WeeklyMarkerMetadata]{
	2,
	"FEE_DISTRIBUTION_ALREADY_COMPLETED",
	http.StatusConflict,
}
var OUTDATED_READ_RESPONSE = Code[ReadResponseMetadata]{
	3,
	"OUTDATED_READ_RESPONSE",
	http.StatusUnprocessableEntity,
}
var INVALID_READ_RESPONSE = Code[InvalidReadResponseMetadata]{
	4,
	"INVALID_READ_RESPONSE",
	http.StatusBadRequest,
}
var UNKNOWN_REQUEST = Code[UnknownRequestMetadata]{5, "UNKNOWN_REQUEST", http.StatusNotFound}
var BRIDGED_AMOUNT_NOT_SUFFICIENT = Code[BridgedAmountMetadata]{
	6,
	"BRIDGED_AMOUNT_NOT_SUFFICIENT",
	http.StatusUnprocessableEntity,
}
var ATTEMPTED_BRIDGE_AMOUNT_TOO_HIGH = Code[BridgeAmountTooHighMetadata]{
	7,
	"ATTEMPTED_BRIDGE_AMOUNT_TOO_HIGH",
	http.StatusUnprocessableEntity,
}
var REFERRAL_REWARDS_THRESHOLD_BREACHED = Code[ThresholdMetadata]{
	8,
	"REFERRAL_REWARDS_THRESHOLD_BREACHED",
	http.StatusUnprocessableEntity,
}
var TREASURY_FEE_THRESHOLD_BREACHED = Code[TreasuryShortfallMetadata]{
	9,
	"TREASURY_FEE_THRESHOLD_BREACHED",
	http.StatusUnprocessableEntity,
}
var WNT_REFERRAL_REWARDS_IN_USD_THRESHOLD_BREACHED = Code[ThresholdMetadata]{
	10,
	"WNT_REFERRAL_REWARDS_IN_USD_THRESHOLD_BREACHED",
	http.StatusUnprocessableEntity,
}
var ES_TOKEN_REFERRAL_REWARDS_THRESHOLD_BREACHED = Code[ThresholdMetadata]{
	11,
	"ES_TOKEN_REFERRAL_REWARDS_THRESHOLD_BREACHED",
	http.StatusUnprocessableEntity,
}
var OVERFLOW = Code[map[string]any]{12, "OVERFLOW", http.StatusUnprocessableEntity}
var DIVIDE_BY_ZERO = Code[map[string]any]{13, "DIVIDE_BY_ZERO", http.StatusUnprocessableEntity}
var ARITHMETIC_INVARIANT_VIOLATED = Code[map[string]any]{
	14,
	"ARITHMETIC_INVARIANT_VIOLATED",
	http.StatusInternalServerError,
}
var KEEPER_ARRAY_LENGTH_MISMATCH = Code[ArrayMismatchMetadata]{
	15,
	"KEEPER_ARRAY_LENGTH_MISMATCH",
	http.StatusBadRequest,
}
var REFERRAL_REWARDS_ARRAY_MISMATCH = Code[ArrayMismatchMetadata]{
	16,
	"REFERRAL_REWARDS_ARRAY_MISMATCH",
	http.StatusBadRequest,
}
var REFERRAL_REWARDS_AMOUNT_EXCEEDS_MAX_BATCH_SIZE = Code[BatchSizeMetadata]{
	17,
	"REFERRAL_REWARDS_AMOUNT_EXCEEDS_MAX_BATCH_SIZE",
	http.StatusBadRequest,
}
var INVALID_PARAMS = Code[InvalidParamsMetadata]{18, "INVALID_PARAMS", http.StatusBadRequest}
var CONSERVATION_VIOLATED = Code[map[string]any]{
	19,
	"CONSERVATION_VIOLATED",
	http.StatusInternalServerError,
}
var REPORT_NOT_FOUND = Code[ReportNotFoundMetadata]{20, "REPORT_NOT_FOUND", http.StatusNotFound}
var UNAUTHENTICATED = Code[PermissionMetadata]{21, "UNAUTHENTICATED", http.StatusUnauthorized}
var PERMISSION_DENIED = Code[PermissionMetadata]{22, "PERMISSION_DENIED", http.StatusForbidden}
var SERVICE_UNAVAILABLE = Code[map[string]any]{
	23,
	"SERVICE_UNAVAILABLE",
	http.StatusServiceUnavailable,
}
