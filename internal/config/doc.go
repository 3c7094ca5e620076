// Package config 负责加载 TradingTools 的 JSON 配置文件，补全默认值，
// 并通过 .env 与环境变量提供钱包私钥等敏感信息。
package config
