package bridge

import (
	"encoding/json"
	"strconv"

	"github.com/ppiankov/sinkguard/internal/callctx"
	"github.com/ppiankov/sinkguard/internal/model"
)

// NewContextCallback answers engine lookups from the thread's request
// context and the top of its event stack. Absent values are "".
func NewContextCallback(req *callctx.RequestContext, stack *callctx.Stack) ContextCallback {
	return func(field model.ContextField) string {
		if v, ok := requestField(req, field); ok {
			return v
		}
		return eventField(stack.Current(), field)
	}
}

func requestField(req *callctx.RequestContext, field model.ContextField) (string, bool) {
	if req == nil {
		return "", false
	}
	info := &req.Info
	switch field {
	case model.CtxRemoteAddress:
		return info.RemoteAddress, true
	case model.CtxMethod:
		return info.Method, true
	case model.CtxRoute:
		return info.Route, true
	case model.CtxStatusCode:
		if info.StatusCode == 0 {
			return "", true
		}
		return strconv.Itoa(info.StatusCode), true
	case model.CtxBody:
		return info.Body, true
	case model.CtxHeaderXForwardedFor:
		return info.XForwardedFor, true
	case model.CtxCookies:
		return info.Cookies, true
	case model.CtxQuery:
		return info.Query, true
	case model.CtxHTTPS:
		if info.HTTPS {
			return "1", true
		}
		return "", true
	case model.CtxURL:
		return info.URL, true
	case model.CtxHeaders:
		if len(info.Headers) == 0 {
			return "", true
		}
		b, _ := json.Marshal(info.Headers)
		return string(b), true
	case model.CtxUserAgent:
		return info.UserAgent, true
	case model.CtxUserID:
		return req.UserID, true
	case model.CtxUserName:
		return req.UserName, true
	case model.CtxRateLimitGroup:
		return req.RateLimitGroup, true
	case model.CtxTenantID:
		return req.TenantID, true
	case model.CtxIdorConfig:
		if req.Idor == nil || req.IdorDisabled {
			return "", true
		}
		b, _ := json.Marshal(req.Idor)
		return string(b), true
	}
	return "", false
}

func eventField(ec *callctx.EventContext, field model.ContextField) string {
	if ec == nil {
		return ""
	}
	switch field {
	case model.CtxFunctionName:
		return ec.FunctionName
	case model.CtxModule:
		return ec.ModuleName
	case model.CtxOutgoingRequestURL:
		return ec.OutgoingRequestURL
	case model.CtxOutgoingRequestEffectiveURL:
		return ec.OutgoingRequestEffectiveURL
	case model.CtxOutgoingRequestPort:
		return port(ec.OutgoingRequestPort)
	case model.CtxOutgoingRequestEffectiveURLPort:
		return port(ec.OutgoingRequestEffectivePort)
	case model.CtxOutgoingRequestResolvedIP:
		return ec.OutgoingRequestResolvedIP
	case model.CtxCmd:
		return ec.Cmd
	case model.CtxFilename:
		return ec.Filename
	case model.CtxFilename2:
		return ec.Filename2
	case model.CtxSQLQuery:
		return ec.SQLQuery
	case model.CtxSQLDialect:
		return ec.SQLDialect
	case model.CtxStackTrace:
		return ec.StackTrace
	case model.CtxParamMatcherParam:
		return ec.ParamMatcherParam
	case model.CtxParamMatcherRegex:
		return ec.ParamMatcherRegex
	}
	return ""
}

func port(p int) string {
	if p == 0 {
		return ""
	}
	return strconv.Itoa(p)
}
