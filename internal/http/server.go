package http

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"moff.io/dapp-wallet/internal/chains"
	"moff.io/dapp-wallet/internal/config"
	"moff.io/dapp-wallet/internal/deeplink"
	"moff.io/dapp-wallet/internal/notify"
	"moff.io/dapp-wallet/internal/session"
	"moff.io/dapp-wallet/pkg/errors"
	"moff.io/dapp-wallet/pkg/log"
	"moff.io/dapp-wallet/pkg/log/meta"
	"moff.io/dapp-wallet/pkg/log/middleware"
)

// 业务错误码
const (
	codeOK               = 0
	codeBadRequest       = 4000
	codeNotConnected     = 4001
	codeInFlight         = 4002
	codeAlreadyConnected = 4003
	codeNoSignature      = 4004
	codeSessionChanged   = 4005
	codeNoLink           = 4006
	codeInternal         = 5000
)

// Server exposes the session controller as the demo's buttons and text fields.
type Server struct {
	controller *session.Controller
	links      *deeplink.Recorder
	feed       *notify.Feed

	demo    config.Demo
	address string
	timeout time.Duration

	engine *gin.Engine
	srv    *http.Server
}

func NewServer(controller *session.Controller, links *deeplink.Recorder, feed *notify.Feed) *Server {
	conf := config.Default()
	s := &Server{controller: controller, links: links, feed: feed}
	s.Apply(&conf)
	return s
}

// Apply implements starter.Configurable.
func (s *Server) Apply(conf *config.Configuration) {
	s.demo = conf.Demo
	s.address = conf.HTTP.Address
	s.timeout = conf.HTTP.RequestTimeout
	s.engine = nil
}

// Handler builds the router on first use.
func (s *Server) Handler() http.Handler {
	if s.engine == nil {
		s.engine = s.routes()
	}
	return s.engine
}

func (s *Server) routes() *gin.Engine {
	router := gin.New()
	router.Use(middleware.RecoveredHTTPLog(), middleware.TimeoutHTTP(s.timeout))
	wallet := router.Group("/wallet")
	wallet.POST("/connect", s.connect)
	wallet.POST("/disconnect", s.disconnect)
	wallet.POST("/balance", s.refreshBalance)
	wallet.POST("/transaction", s.sendTransaction)
	wallet.POST("/sign", s.signMessage)
	wallet.POST("/verify", s.verifySignature)
	wallet.GET("/state", s.state)
	wallet.GET("/notifications", s.notifications)
	wallet.GET("/link", s.link)
	wallet.GET("/qrcode", s.qrcode)
	return router
}

// Start implements starter.Startable. The listener runs until Stop.
func (s *Server) Start(_ context.Context) {
	s.srv = &http.Server{Addr: s.address, Handler: s.Handler()}
	go func() {
		log.Infof("http - listening on %v", s.address)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal(errors.WrapAndReport(err, "http server"))
		}
	}()
}

// Stop implements starter.Stopable.
func (s *Server) Stop() {
	if s.srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(ctx); err != nil {
		log.Errorf("http - shutdown:%v", err)
	}
}

func ok(ctx *gin.Context, data interface{}) {
	ctx.JSON(http.StatusOK, gin.H{"code": codeOK, "msg": "success", "data": data})
}

func fail(ctx *gin.Context, err error) {
	status, code := http.StatusInternalServerError, codeInternal
	switch {
	case errors.Is(err, session.ErrNotConnected), errors.Is(err, session.ErrProviderClosed):
		status, code = http.StatusConflict, codeNotConnected
	case errors.Is(err, session.ErrAlreadyConnected):
		status, code = http.StatusConflict, codeAlreadyConnected
	case errors.Is(err, session.ErrRequestInFlight):
		status, code = http.StatusTooManyRequests, codeInFlight
	case errors.Is(err, session.ErrNoSignature):
		status, code = http.StatusConflict, codeNoSignature
	case errors.Is(err, session.ErrSessionChanged):
		status, code = http.StatusConflict, codeSessionChanged
	case errors.Is(err, errBadRequest):
		status, code = http.StatusBadRequest, codeBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	case errors.Is(err, deeplink.ErrNoLink):
		status, code = http.StatusNotFound, codeNoLink
	default:
		// wallet side failures such as a rejected request
		status = http.StatusBadGateway
	}
	ctx.JSON(status, gin.H{"code": code, "msg": err.Error()})
}

var errBadRequest = errors.New("bad request")

func operation(ctx *gin.Context, name string) context.Context {
	rctx := ctx.Request.Context()
	meta.WithValue(rctx, meta.KeyOperation, name)
	return rctx
}

func (s *Server) connect(ctx *gin.Context) {
	if err := s.controller.Connect(operation(ctx, "connect")); err != nil {
		fail(ctx, err)
		return
	}
	snapshot := s.controller.Snapshot()
	meta.WithValue(ctx.Request.Context(), meta.KeyAddress, snapshot.Address)
	ok(ctx, snapshot)
}

func (s *Server) disconnect(ctx *gin.Context) {
	if err := s.controller.Disconnect(operation(ctx, "disconnect")); err != nil {
		fail(ctx, err)
		return
	}
	ok(ctx, s.controller.Snapshot())
}

func (s *Server) refreshBalance(ctx *gin.Context) {
	if err := s.controller.RefreshBalance(operation(ctx, "balance")); err != nil {
		fail(ctx, err)
		return
	}
	ok(ctx, s.controller.Snapshot())
}

type transactionForm struct {
	To       string `json:"to"`
	ValueWei string `json:"value_wei"`
}

func (s *Server) sendTransaction(ctx *gin.Context) {
	form := transactionForm{To: s.demo.Recipient, ValueWei: s.demo.ValueWei}
	if err := bindOptionalJSON(ctx, &form); err != nil {
		fail(ctx, err)
		return
	}
	if !common.IsHexAddress(form.To) {
		fail(ctx, errors.Wrapf(errBadRequest, "recipient %q", form.To))
		return
	}
	value, err := chains.ParseWei(form.ValueWei)
	if err != nil {
		fail(ctx, errors.Wrapf(errBadRequest, "value %q", form.ValueWei))
		return
	}
	hash, err := s.controller.SendTransaction(operation(ctx, "transaction"), common.HexToAddress(form.To), value)
	if err != nil {
		fail(ctx, err)
		return
	}
	ok(ctx, gin.H{"tx_hash": hash, "state": s.controller.Snapshot()})
}

type signForm struct {
	Message string `json:"message"`
}

func (s *Server) signMessage(ctx *gin.Context) {
	form := signForm{Message: s.demo.Message}
	if err := bindOptionalJSON(ctx, &form); err != nil {
		fail(ctx, err)
		return
	}
	record, err := s.controller.SignMessage(operation(ctx, "sign"), form.Message)
	if err != nil {
		fail(ctx, err)
		return
	}
	ok(ctx, record)
}

func (s *Server) verifySignature(ctx *gin.Context) {
	operation(ctx, "verify")
	verified, err := s.controller.VerifySignature()
	if err != nil {
		fail(ctx, err)
		return
	}
	ok(ctx, gin.H{"verified": verified})
}

func (s *Server) state(ctx *gin.Context) {
	ok(ctx, s.controller.Snapshot())
}

// notifications 返回最近的提示，drain=true时同时清空
func (s *Server) notifications(ctx *gin.Context) {
	drain, _ := strconv.ParseBool(ctx.Query("drain"))
	if drain {
		ok(ctx, s.feed.Drain())
		return
	}
	ok(ctx, s.feed.Recent())
}

func (s *Server) link(ctx *gin.Context) {
	link := s.links.Latest()
	uri, err := deeplink.PairingURI(link)
	if err != nil {
		fail(ctx, err)
		return
	}
	ok(ctx, gin.H{"link": link, "pairing_uri": uri})
}

func (s *Server) qrcode(ctx *gin.Context) {
	png, err := s.links.QRCode()
	if err != nil {
		fail(ctx, err)
		return
	}
	ctx.Data(http.StatusOK, "image/png", png)
}

// bindOptionalJSON leaves the defaults in place for an empty body.
func bindOptionalJSON(ctx *gin.Context, form interface{}) error {
	if ctx.Request.ContentLength == 0 {
		return nil
	}
	if err := ctx.ShouldBindJSON(form); err != nil {
		return errors.Wrap(errBadRequest, err.Error())
	}
	return nil
}
