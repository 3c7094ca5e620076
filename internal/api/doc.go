// Package api 暴露限价单插件的 REST 接口：动作列表与调用、订单查询、健康检查以及 Prometheus 指标。
package api
