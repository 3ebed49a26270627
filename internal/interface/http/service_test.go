package httpservice

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/arkade-os/fee-distributor/internal/core/application"
	"github.com/arkade-os/fee-distributor/internal/core/domain"
	"github.com/arkade-os/fee-distributor/pkg/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const (
	schedulerToken = "scheduler-token"
	transportToken = "transport-token"
	adminToken     = "admin-token"
)

type mockService struct {
	mock.Mock
	events chan []domain.Event
}

func (m *mockService) Start() error { return nil }

func (m *mockService) Stop() {}

func (m *mockService) InitiateDistribute(ctx context.Context) (*application.InitiateResult, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*application.InitiateResult), args.Error(1)
}

func (m *mockService) OnAggregationResponse(
	ctx context.Context, requestID common.Hash, timestamp int64, payload []byte,
) error {
	args := m.Called(ctx, requestID, timestamp, payload)
	return args.Error(0)
}

func (m *mockService) ConfirmBridgingCompleted(ctx context.Context) (domain.DistributionState, error) {
	args := m.Called(ctx)
	return args.Get(0).(domain.DistributionState), args.Error(1)
}

func (m *mockService) Distribute(
	ctx context.Context, req application.DistributeRequest,
) (*domain.DistributionReport, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.DistributionReport), args.Error(1)
}

func (m *mockService) SendReferralRewards(
	ctx context.Context, req application.ReferralRewardsRequest,
) error {
	args := m.Called(ctx, req)
	return args.Error(0)
}

func (m *mockService) GetStatus(ctx context.Context) (*application.DistributionStatus, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*application.DistributionStatus), args.Error(1)
}

func (m *mockService) GetEventsChannel(_ context.Context) <-chan []domain.Event {
	return m.events
}

type mockAdminService struct {
	mock.Mock
}

func (m *mockAdminService) WithdrawTokens(
	ctx context.Context, token, receiver common.Address, amount *uint256.Int,
) error {
	args := m.Called(ctx, token, receiver, amount)
	return args.Error(0)
}

func (m *mockAdminService) GetParams(ctx context.Context) (*domain.DistributionParams, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.DistributionParams), args.Error(1)
}

func (m *mockAdminService) UpdateParams(ctx context.Context, params domain.DistributionParams) error {
	args := m.Called(ctx, params)
	return args.Error(0)
}

func (m *mockAdminService) ListReports(
	ctx context.Context, after, before int64,
) ([]domain.DistributionReport, error) {
	args := m.Called(ctx, after, before)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.DistributionReport), args.Error(1)
}

func (m *mockAdminService) GetReport(
	ctx context.Context, cycleID string,
) (*domain.DistributionReport, error) {
	args := m.Called(ctx, cycleID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.DistributionReport), args.Error(1)
}

type testEnv struct {
	svc     *mockService
	admin   *mockAdminService
	handler *handler
	ready   *readiness
	router  http.Handler
}

func newTestEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()

	svc := &mockService{events: make(chan []domain.Event, 8)}
	admin := &mockAdminService{}
	h := newHandler(svc, admin, cfg.heartbeat())
	ready := &readiness{}
	ready.markStarted()

	t.Cleanup(func() {
		close(svc.events)
	})

	return &testEnv{
		svc:     svc,
		admin:   admin,
		handler: h,
		ready:   ready,
		router:  newRouter(h, newAuthenticator(cfg), ready),
	}
}

func (e *testEnv) do(method, path, token, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func testConfig() Config {
	return Config{
		Port:           7080,
		SchedulerToken: schedulerToken,
		TransportToken: transportToken,
		AdminToken:     adminToken,
	}
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorResponse {
	t.Helper()

	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, testConfig().Validate())
	require.NoError(t, Config{Port: 1}.Validate())

	cfg := testConfig()
	cfg.Port = 0
	require.Error(t, cfg.Validate())

	cfg = testConfig()
	cfg.AdminToken = schedulerToken
	require.Error(t, cfg.Validate())

	cfg = testConfig()
	cfg.EventsHeartbeat = -time.Second
	require.Error(t, cfg.Validate())
}

func TestAuth(t *testing.T) {
	env := newTestEnv(t, testConfig())
	env.svc.On("InitiateDistribute", mock.Anything).Return(&application.InitiateResult{
		CycleID:   "cycle",
		RequestID: common.HexToHash("0x01"),
		State:     domain.DistributionStateInitiated,
	}, nil)
	env.svc.On("GetStatus", mock.Anything).Return(&application.DistributionStatus{}, nil)
	env.admin.On("GetParams", mock.Anything).Return(&domain.DistributionParams{}, nil)

	fixtures := []struct {
		name   string
		method string
		path   string
		token  string
		status int
	}{
		{"missing_token", http.MethodPost, "/v1/distribution/initiate", "", http.StatusUnauthorized},
		{"unknown_token", http.MethodPost, "/v1/distribution/initiate", "nope", http.StatusUnauthorized},
		{"scheduler_initiates", http.MethodPost, "/v1/distribution/initiate", schedulerToken, http.StatusOK},
		{"transport_cannot_initiate", http.MethodPost, "/v1/distribution/initiate", transportToken, http.StatusForbidden},
		{"admin_initiates", http.MethodPost, "/v1/distribution/initiate", adminToken, http.StatusOK},
		{"transport_reads_status", http.MethodGet, "/v1/distribution/status", transportToken, http.StatusOK},
		{"scheduler_cannot_read_params", http.MethodGet, "/v1/admin/params", schedulerToken, http.StatusForbidden},
		{"admin_reads_params", http.MethodGet, "/v1/admin/params", adminToken, http.StatusOK},
		{"admin_cannot_post_read_response", http.MethodPost, "/v1/distribution/read-response", adminToken, http.StatusForbidden},
		{"scheduler_cannot_post_read_response", http.MethodPost, "/v1/distribution/read-response", schedulerToken, http.StatusForbidden},
		{"healthz_is_public", http.MethodGet, "/healthz", "", http.StatusOK},
		{"metrics_is_public", http.MethodGet, "/metrics", "", http.StatusOK},
	}
	for _, f := range fixtures {
		t.Run(f.name, func(t *testing.T) {
			rec := env.do(f.method, f.path, f.token, "")
			require.Equal(t, f.status, rec.Code, rec.Body.String())
		})
	}

	t.Run("error_body", func(t *testing.T) {
		rec := env.do(http.MethodGet, "/v1/admin/params", transportToken, "")
		resp := decodeError(t, rec)
		require.Equal(t, errors.PERMISSION_DENIED.Code, resp.Code)
		require.Equal(t, errors.PERMISSION_DENIED.Name, resp.Name)
		require.Equal(t, "/v1/admin/params", resp.Metadata["route"])
	})

	t.Run("disabled", func(t *testing.T) {
		env := newTestEnv(t, Config{Port: 7080})
		env.svc.On("GetStatus", mock.Anything).Return(&application.DistributionStatus{}, nil)

		rec := env.do(http.MethodGet, "/v1/distribution/status", "", "")
		require.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestReadiness(t *testing.T) {
	env := newTestEnv(t, testConfig())
	env.ready.markStopped()

	rec := env.do(http.MethodGet, "/v1/distribution/status", schedulerToken, "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Equal(t, errors.SERVICE_UNAVAILABLE.Code, decodeError(t, rec).Code)

	rec = env.do(http.MethodGet, "/healthz", "", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	env.ready.markStarted()
	rec = env.do(http.MethodGet, "/healthz", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestDistributionRoutes(t *testing.T) {
	t.Run("read_response", func(t *testing.T) {
		env := newTestEnv(t, testConfig())
		requestID := common.HexToHash("0xabcd")
		env.svc.On(
			"OnAggregationResponse", mock.Anything, requestID, int64(1000), []byte{0x01, 0x02},
		).Return(nil)

		body := fmt.Sprintf(
			`{"requestId":"%s","timestamp":1000,"payload":"0x0102"}`, requestID.Hex(),
		)
		rec := env.do(http.MethodPost, "/v1/distribution/read-response", transportToken, body)
		require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())
		env.svc.AssertExpectations(t)
	})

	t.Run("invalid_read_response", func(t *testing.T) {
		env := newTestEnv(t, testConfig())

		fixtures := []struct {
			body  string
			field string
		}{
			{`{"requestId":"0x01","timestamp":1,"payload":"0x"}`, "requestId"},
			{
				fmt.Sprintf(`{"requestId":"%s","timestamp":1,"payload":"zz"}`, common.Hash{}.Hex()),
				"payload",
			},
			{`{"requestId":`, "body"},
			{`{"unknown":1}`, "body"},
		}
		for _, f := range fixtures {
			rec := env.do(http.MethodPost, "/v1/distribution/read-response", transportToken, f.body)
			require.Equal(t, http.StatusBadRequest, rec.Code)
			resp := decodeError(t, rec)
			require.Equal(t, errors.INVALID_PARAMS.Code, resp.Code)
			require.Equal(t, f.field, resp.Metadata["field"])
		}
		env.svc.AssertNotCalled(t, "OnAggregationResponse")
	})

	t.Run("confirm_bridging", func(t *testing.T) {
		env := newTestEnv(t, testConfig())
		env.svc.On("ConfirmBridgingCompleted", mock.Anything).
			Return(domain.DistributionStateBridgingCompleted, nil)

		rec := env.do(http.MethodPost, "/v1/distribution/confirm-bridging", schedulerToken, "")
		require.Equal(t, http.StatusOK, rec.Code)

		var resp stateResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Equal(t, domain.DistributionStateBridgingCompleted.String(), resp.State)
	})

	t.Run("distribute", func(t *testing.T) {
		env := newTestEnv(t, testConfig())
		expected := application.DistributeRequest{
			WntReferralRewardsUsd:     uint256.NewInt(100),
			EsTokenForReferralRewards: uint256.NewInt(0),
			FeesV1Usd:                 uint256.NewInt(10),
			FeesV2Usd:                 uint256.NewInt(20),
		}
		env.svc.On("Distribute", mock.Anything, expected).Return(&domain.DistributionReport{
			CycleID:             "cycle",
			DistributedAt:       2000,
			FeeTokenDistributed: uint256.NewInt(50),
			Chains: domain.ChainRecords{
				domain.NewChainRecord(1, uint256.NewInt(50), uint256.NewInt(10)),
			},
		}, nil)

		body := `{"wntReferralRewardsUsd":"100","feesV1Usd":"10","feesV2Usd":"20"}`
		rec := env.do(http.MethodPost, "/v1/distribution/distribute", schedulerToken, body)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var resp reportResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Equal(t, "cycle", resp.CycleID)
		require.Equal(t, "50", resp.FeeTokenDistributed)
		require.Len(t, resp.Chains, 1)
		require.Equal(t, "10", resp.Chains[0].StakedAmount)
	})

	t.Run("distribute_error", func(t *testing.T) {
		env := newTestEnv(t, testConfig())
		env.svc.On("Distribute", mock.Anything, mock.Anything).Return(
			nil,
			errors.BRIDGED_AMOUNT_NOT_SUFFICIENT.New("bridged funds not received").
				WithMetadata(errors.BridgedAmountMetadata{
					RequiredFeeAmount: "100",
					OriginalBalance:   "40",
					MinFeeReceived:    "59",
					CurrentBalance:    "41",
				}),
		)

		rec := env.do(http.MethodPost, "/v1/distribution/distribute", schedulerToken, `{}`)
		require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

		resp := decodeError(t, rec)
		require.Equal(t, errors.BRIDGED_AMOUNT_NOT_SUFFICIENT.Code, resp.Code)
		require.Equal(t, "BRIDGED_AMOUNT_NOT_SUFFICIENT", resp.Name)
		require.Equal(t, "41", resp.Metadata["current_balance"])
	})

	t.Run("untyped_error", func(t *testing.T) {
		env := newTestEnv(t, testConfig())
		env.svc.On("InitiateDistribute", mock.Anything).Return(nil, fmt.Errorf("boom"))

		rec := env.do(http.MethodPost, "/v1/distribution/initiate", schedulerToken, "")
		require.Equal(t, http.StatusInternalServerError, rec.Code)
		require.Equal(t, errors.INTERNAL_ERROR.Name, decodeError(t, rec).Name)
	})

	t.Run("referral_rewards", func(t *testing.T) {
		env := newTestEnv(t, testConfig())
		token := common.HexToAddress("0xaa")
		expected := application.ReferralRewardsRequest{
			Token:        token,
			MaxBatchSize: 10,
			Accounts:     []common.Address{common.HexToAddress("0x01"), common.HexToAddress("0x02")},
			Amounts:      []*uint256.Int{uint256.NewInt(5), uint256.NewInt(7)},
		}
		env.svc.On("SendReferralRewards", mock.Anything, expected).Return(nil)

		body := fmt.Sprintf(`{"token":"%s","maxBatchSize":10,"accounts":["%s","%s"],"amounts":["5","7"]}`,
			token.Hex(), common.HexToAddress("0x01").Hex(), common.HexToAddress("0x02").Hex())
		rec := env.do(http.MethodPost, "/v1/distribution/referral-rewards", schedulerToken, body)
		require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

		body = fmt.Sprintf(`{"token":"%s","maxBatchSize":10,"accounts":["0x01"],"amounts":["5"]}`, token.Hex())
		rec = env.do(http.MethodPost, "/v1/distribution/referral-rewards", schedulerToken, body)
		require.Equal(t, http.StatusBadRequest, rec.Code)
		require.Equal(t, "accounts", decodeError(t, rec).Metadata["field"])
	})

	t.Run("status", func(t *testing.T) {
		env := newTestEnv(t, testConfig())
		env.svc.On("GetStatus", mock.Anything).Return(&application.DistributionStatus{
			State:            domain.DistributionStateInitiated,
			CycleID:          "cycle",
			PendingRequestID: common.HexToHash("0x01"),
			ReferralRewards: []application.ReferralRewardsStatus{
				{
					Token:      common.HexToAddress("0xaa"),
					Authorized: uint256.NewInt(10),
					Sent:       uint256.NewInt(3),
				},
			},
			LedgerVersion: 4,
		}, nil)

		rec := env.do(http.MethodGet, "/v1/distribution/status", schedulerToken, "")
		require.Equal(t, http.StatusOK, rec.Code)

		var resp statusResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Equal(t, domain.DistributionStateInitiated.String(), resp.State)
		require.Equal(t, common.HexToHash("0x01").Hex(), resp.PendingRequestID)
		require.Empty(t, resp.OriginalFeeAmount)
		require.Equal(t, "3", resp.ReferralRewards[0].Sent)
		require.Equal(t, uint64(4), resp.LedgerVersion)
	})

	t.Run("panic", func(t *testing.T) {
		env := newTestEnv(t, testConfig())
		env.svc.On("GetStatus", mock.Anything).Run(func(mock.Arguments) {
			panic("unexpected")
		}).Return(nil, nil)

		rec := env.do(http.MethodGet, "/v1/distribution/status", schedulerToken, "")
		require.Equal(t, http.StatusInternalServerError, rec.Code)
		require.Equal(t, errors.INTERNAL_ERROR.Code, decodeError(t, rec).Code)
	})
}

func TestAdminRoutes(t *testing.T) {
	t.Run("withdraw", func(t *testing.T) {
		env := newTestEnv(t, testConfig())
		token, receiver := common.HexToAddress("0xaa"), common.HexToAddress("0xbb")
		env.admin.On("WithdrawTokens", mock.Anything, token, receiver, uint256.NewInt(9)).Return(nil)

		body := fmt.Sprintf(`{"token":"%s","receiver":"%s","amount":"9"}`, token.Hex(), receiver.Hex())
		rec := env.do(http.MethodPost, "/v1/admin/withdraw", adminToken, body)
		require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

		body = fmt.Sprintf(`{"token":"%s","receiver":"%s"}`, token.Hex(), receiver.Hex())
		rec = env.do(http.MethodPost, "/v1/admin/withdraw", adminToken, body)
		require.Equal(t, http.StatusBadRequest, rec.Code)
		require.Equal(t, "amount", decodeError(t, rec).Metadata["field"])
	})

	t.Run("update_params", func(t *testing.T) {
		env := newTestEnv(t, testConfig())
		env.admin.On("UpdateParams", mock.Anything, mock.MatchedBy(
			func(p domain.DistributionParams) bool {
				return p.CurrentChainID == 1 && p.MaxReadResponseDelay == time.Hour
			},
		)).Return(nil)

		rec := env.do(http.MethodPut, "/v1/admin/params", adminToken,
			`{"currentChainId":1,"chains":[{"chainId":1}],"maxReadResponseDelay":"1h"}`)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		rec = env.do(http.MethodPut, "/v1/admin/params", adminToken, `{"treasury":"nope"}`)
		require.Equal(t, http.StatusBadRequest, rec.Code)
		require.Equal(t, "params", decodeError(t, rec).Metadata["field"])
	})

	t.Run("reports", func(t *testing.T) {
		env := newTestEnv(t, testConfig())
		env.admin.On("ListReports", mock.Anything, int64(100), int64(0)).Return(
			[]domain.DistributionReport{{CycleID: "b"}, {CycleID: "a"}}, nil,
		)
		env.admin.On("GetReport", mock.Anything, "a").Return(&domain.DistributionReport{CycleID: "a"}, nil)
		env.admin.On("GetReport", mock.Anything, "unknown").Return(
			nil,
			errors.REPORT_NOT_FOUND.New("no report").
				WithMetadata(errors.ReportNotFoundMetadata{CycleID: "unknown"}),
		)

		rec := env.do(http.MethodGet, "/v1/admin/reports?after=100", adminToken, "")
		require.Equal(t, http.StatusOK, rec.Code)
		var list listReportsResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
		require.Len(t, list.Reports, 2)
		require.Equal(t, "b", list.Reports[0].CycleID)

		rec = env.do(http.MethodGet, "/v1/admin/reports?before=yesterday", adminToken, "")
		require.Equal(t, http.StatusBadRequest, rec.Code)

		rec = env.do(http.MethodGet, "/v1/admin/reports/a", adminToken, "")
		require.Equal(t, http.StatusOK, rec.Code)

		rec = env.do(http.MethodGet, "/v1/admin/reports/unknown", adminToken, "")
		require.Equal(t, http.StatusNotFound, rec.Code)
		require.Equal(t, "unknown", decodeError(t, rec).Metadata["cycle_id"])
	})
}

func TestEventStream(t *testing.T) {
	env := newTestEnv(t, testConfig())
	server := httptest.NewServer(env.router)
	defer server.Close()
	defer env.handler.close()

	req, err := http.NewRequest(
		http.MethodGet, server.URL+"/v1/distribution/events?type=BridgingCompleted", nil,
	)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+adminToken)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	require.Eventually(t, env.handler.events.hasListeners, time.Second, 10*time.Millisecond)

	env.svc.events <- []domain.Event{
		domain.DistributionInitiated{
			DistributionEvent: domain.DistributionEvent{
				Id: "cycle", Type: domain.EventTypeDistributionInitiated, Timestamp: 1,
			},
		},
		domain.BridgingCompleted{
			DistributionEvent: domain.DistributionEvent{
				Id: "cycle", Type: domain.EventTypeBridgingCompleted, Timestamp: 2,
			},
			CurrentBalance: "10",
		},
	}

	reader := bufio.NewReader(resp.Body)
	eventLine, err := reader.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "event: BridgingCompleted\n", eventLine)

	dataLine, err := reader.ReadString('\n')
	require.NoError(t, err)
	data, ok := strings.CutPrefix(strings.TrimSpace(dataLine), "data: ")
	require.True(t, ok)

	var msg struct {
		Type  string                   `json:"type"`
		Event domain.BridgingCompleted `json:"event"`
	}
	require.NoError(t, json.Unmarshal([]byte(data), &msg))
	require.Equal(t, "BridgingCompleted", msg.Type)
	require.Equal(t, "10", msg.Event.CurrentBalance)
	require.Equal(t, "cycle", msg.Event.GetCycleID())
}
