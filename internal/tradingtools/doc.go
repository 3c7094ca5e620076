// Package tradingtools 将限价单能力封装为插件（action provider），
// 向智能体暴露 create_limit_order 与 check_limit_order 两个动作，
// 并向宿主应用提供轮询的启停控制。
package tradingtools
