package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// WorkerFields 标识一代 worker，生命周期日志（install/activate/update）统一携带。
func WorkerFields(workerID, version, state string) logrus.Fields {
	return logrus.Fields{
		"worker_id": workerID,
		"version":   version,
		"state":     state,
	}
}

// RequestFields 提供策略/来源/命中状态字段，供 fetch 事件日志复用。
func RequestFields(version, clientID, strategy, source string, cacheHit bool) logrus.Fields {
	return logrus.Fields{
		"version":   version,
		"client_id": clientID,
		"strategy":  strategy,
		"source":    source,
		"cache_hit": cacheHit,
	}
}
