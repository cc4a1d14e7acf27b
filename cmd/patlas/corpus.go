package main

import (
	"strconv"

	"patlas/internal/search"
)

// The built-in corpus covers two disjoint topic clusters so different keyword
// sets select different subsets: an artificial-intelligence cluster (every
// record mentions 人工智能) and an energy-storage cluster (every record
// mentions 储能). One filing appears in both sources on purpose; the
// aggregator's dedup pass collapses it.
type demoPatent struct {
	filed     string // application date, YYYY-MM-DD
	granted   string // publication date; empty while pending
	appNo     string
	title     string
	abstract  string
	applicant string
	inventor  string
	ipc       string
	country   string
}

// record converts the row into a search hit shaped the way a patent source
// returns one.
func (d demoPatent) record() search.Record {
	year := yearOf(d.granted)
	if year == 0 {
		year = yearOf(d.filed)
	}
	status := "授权"
	if d.granted == "" {
		status = "实质审查"
	}
	meta := map[string]interface{}{
		"application_number": d.appNo,
		"applicants":         []string{d.applicant},
		"inventors":          []string{d.inventor},
		"ipc_classes":        []string{d.ipc},
		"country":            d.country,
		"application_date":   d.filed,
		"status":             status,
	}
	if d.granted != "" {
		meta["publication_date"] = d.granted
	}
	return search.Record{
		Title:         d.title,
		URL:           "https://patents.example.com/" + d.appNo,
		Content:       d.abstract,
		SearchType:    search.TypePatent,
		PublishedYear: year,
		Metadata:      meta,
	}
}

func yearOf(date string) int {
	if len(date) < 4 {
		return 0
	}
	year, err := strconv.Atoi(date[:4])
	if err != nil {
		return 0
	}
	return year
}

var cnkiCorpus = []demoPatent{
	{"2019-03-14", "2020-09-18", "CN201910196482.3",
		"一种基于卷积神经网络的工业缺陷检测方法",
		"本发明公开了一种工业缺陷检测方法，利用深度学习对焊缝图像进行特征提取，结合人工智能质检策略输出缺陷类别与位置，显著降低漏检率。",
		"华为技术有限公司", "王磊", "G06N 3/08", "CN"},
	{"2020-02-11", "2021-08-24", "CN202010087316.5",
		"语音识别模型的自适应训练方法及装置",
		"本申请涉及人工智能语音技术，通过对声学模型进行在线自适应训练，提升远场嘈杂环境下的识别准确率，适用于智能音箱与车载场景。",
		"百度在线网络技术(北京)有限公司", "刘洋", "G10L 15/22", "CN"},
	{"2020-05-26", "2021-12-03", "CN202010453928.7",
		"基于知识图谱的智能问答系统",
		"本发明构建领域知识图谱并融合人工智能语义匹配模型，对用户问题进行意图解析与多跳推理，返回可解释的答案路径。",
		"腾讯科技(深圳)有限公司", "陈晨", "G06F 16/36", "CN"},
	{"2021-03-02", "2022-10-14", "CN202110234719.2",
		"面向自动驾驶的多传感器融合感知方法",
		"本发明将激光雷达点云与摄像头图像在特征层融合，采用深度学习网络完成目标检测与轨迹预测，为人工智能驾驶决策提供统一的环境模型。",
		"华为技术有限公司", "赵强", "G01S 17/931", "CN"},
	{"2021-06-21", "2023-01-06", "CN202110678204.9",
		"一种文本情感分析方法及存储介质",
		"本发明提出融合注意力机制的情感分类模型，对评论文本进行细粒度极性判断，并以机器学习手段缓解领域迁移带来的性能下降，属于人工智能自然语言处理领域。",
		"中国科学院自动化研究所", "孙文", "G06F 40/30", "CN"},
	{"2022-01-27", "2023-07-21", "CN202210098431.6",
		"图像语义分割网络的轻量化方法",
		"本发明通过通道剪枝与知识蒸馏压缩深度学习分割网络，在移动端实现实时人工智能图像理解，精度损失控制在百分之一以内。",
		"商汤集团有限公司", "周杰", "G06T 7/11", "CN"},
	{"2022-04-08", "2023-11-17", "CN202210345672.8",
		"基于联邦学习的隐私保护模型训练方法",
		"本申请在多方数据不出域的前提下协同训练机器学习模型，结合差分隐私与安全聚合，兼顾人工智能模型效果与数据合规要求。",
		"华为技术有限公司", "吴迪", "G06N 20/00", "CN"},
	{"2022-07-05", "2024-02-09", "CN202210789145.1",
		"一种智能推荐系统的冷启动处理方法",
		"本发明利用跨域迁移与深度学习兴趣建模，为缺少行为数据的新用户生成初始画像，提升人工智能推荐系统冷启动阶段的点击率。",
		"腾讯科技(深圳)有限公司", "郑凯", "G06Q 30/0601", "CN"},
	{"2023-02-14", "2024-08-30", "CN202310112358.4",
		"视频行为识别的时空特征提取方法",
		"本发明设计三维卷积与时序注意力结合的深度学习框架，从监控视频中提取时空特征完成行为识别，服务于人工智能安防分析。",
		"商汤集团有限公司", "冯媛", "G06T 7/20", "CN"},
	{"2023-05-09", "", "CN202310457291.0",
		"大语言模型的指令微调方法及装置",
		"本申请构造多任务指令数据并分阶段微调大语言模型，缓解灾难性遗忘，使通用人工智能助手在垂直领域保持深度学习得到的原有能力。",
		"百度在线网络技术(北京)有限公司", "李想", "G06N 3/0455", "CN"},
	{"2023-09-01", "", "CN202310891644.7",
		"基于强化学习的机械臂抓取控制方法",
		"本发明在仿真环境中训练强化学习策略并迁移至真实机械臂，结合人工智能视觉伺服实现对不规则物体的稳定抓取。",
		"中国科学院自动化研究所", "何平", "B25J 9/16", "CN"},
	{"2024-01-18", "", "CN202410076523.9",
		"多模态预训练模型的跨模态检索方法",
		"本发明对齐图文特征空间并引入对比学习目标，支撑以文搜图与以图搜文，推动人工智能多模态深度学习检索落地。",
		"华为技术有限公司", "宋睿", "G06F 16/903", "CN"},

	{"2020-07-29", "2022-01-14", "CN202010764215.3",
		"一种储能电池簇的均衡控制方法",
		"本发明监测电池簇内各锂电池单体的荷电状态差异，动态调整均衡电流，延长储能系统循环寿命并降低热失控风险。",
		"宁德时代新能源科技股份有限公司", "曾毅", "H01M 10/42", "CN"},
	{"2022-05-12", "2023-12-08", "CN202210516749.4",
		"基于光伏出力预测的储能调度方法",
		"本发明利用深度学习模型预测光伏出力曲线，结合分时电价滚动优化储能充放电计划，提升电站整体收益。",
		"阳光电源股份有限公司", "任杰", "H02J 3/32", "CN"},
	{"2023-03-07", "2024-10-25", "CN202310208642.5",
		"储能变流器的并网控制方法",
		"本发明改进储能变流器的锁相与电流内环控制，在电网电压骤降期间保持并网稳定并提供无功支撑。",
		"阳光电源股份有限公司", "潘磊", "H02J 3/38", "CN"},
	{"2024-02-23", "", "CN202410193754.0",
		"构网型储能系统的惯量支撑控制方法",
		"本发明使储能变流器模拟同步机惯量与阻尼特性，在高比例新能源电网中抑制频率波动，增强系统构网能力。",
		"国家电网有限公司", "江涛", "H02J 3/24", "CN"},
	{"2025-01-21", "", "CN202510078246.3",
		"储能电站参与电网调频的协同控制方法",
		"本发明按荷电状态与响应速率对多座储能电站分层分配调频指令，缩短响应时间并避免单站过度充放。",
		"国家电网有限公司", "龚宇", "H02J 3/46", "CN"},
}

var webCorpus = []demoPatent{
	{"2024-03-22", "", "CN202410288467.2",
		"一种边缘端神经网络推理加速装置",
		"本实用新型集成低功耗人工智能芯片与片上缓存调度单元，对量化后的神经网络推理任务加速，适配无人机与摄像头等边缘设备。",
		"华为技术有限公司", "韩雪", "H01L 25/18", "CN"},
	{"2024-05-30", "", "CN202410512930.6",
		"医学影像病灶自动标注系统",
		"本发明利用深度学习分割模型与医生交互修正闭环，自动标注CT影像中的病灶区域，缩短人工智能辅助诊断的数据准备周期。",
		"北京智源人工智能研究院", "高飞", "G06T 7/00", "CN"},
	{"2024-08-15", "", "CN202410867301.4",
		"智能客服对话状态跟踪方法",
		"本申请将对话历史编码为槽位状态图并进行增量更新，降低多轮人工智能客服的误解率，支持业务流程的可配置扩展。",
		"腾讯科技(深圳)有限公司", "谢婷", "G06F 40/35", "CN"},
	{"2025-02-06", "", "KR10-2025-0031847",
		"生成式对抗网络的图像增强方法",
		"本发明采用生成式对抗网络对低照度图像进行增强，结合深度学习噪声建模保持纹理细节，用于人工智能影像处理管线。",
		"三星电子株式会社", "金玟序", "G06T 5/60", "KR"},
	{"2025-04-11", "", "US18934721",
		"一种模型蒸馏的训练数据筛选方法",
		"本发明依据原模型置信度与梯度贡献筛选训练样本，在保持机器学习精度的同时将人工智能模型蒸馏成本降低约四成。",
		"谷歌有限责任公司", "David Chen", "G06N 5/04", "US"},
	{"2025-03-28", "", "CN202510134596.8",
		"自然语言生成文本的事实一致性校验方法",
		"本申请对生成文本抽取三元组并与证据库比对，识别人工智能生成内容中的事实性错误，可作为深度学习文本生成系统的后置校验器。",
		"百度在线网络技术(北京)有限公司", "罗恒", "G06F 40/194", "CN"},

	// Same filing as the cnki copy; exercises cross-source dedup.
	{"2023-05-09", "", "CN202310457291.0",
		"大语言模型的指令微调方法及装置",
		"本申请构造多任务指令数据并分阶段微调大语言模型，缓解灾难性遗忘，使通用人工智能助手在垂直领域保持深度学习得到的原有能力。",
		"百度在线网络技术(北京)有限公司", "李想", "G06N 3/0455", "CN"},

	{"2021-03-30", "2022-09-02", "CN202110342867.0",
		"电化学储能电站的消防预警系统",
		"本实用新型在电池舱内布设多参量探测器，对电解液泄漏与温升进行分级预警，并联动喷淋装置抑制储能电站火灾蔓延。",
		"比亚迪股份有限公司", "邓超", "A62C 3/16", "CN"},
	{"2022-08-19", "2024-03-01", "CN202210903158.2",
		"一种液冷储能集装箱的热管理装置",
		"本实用新型采用双回路液冷板与变频泵组，对储能集装箱内电池模组进行分区控温，温差控制在三摄氏度以内。",
		"宁德时代新能源科技股份有限公司", "蔡明", "H01M 10/613", "CN"},
	{"2023-06-28", "", "CN202310675429.1",
		"梯次利用动力电池的储能系统",
		"本发明对退役动力锂电池进行一致性分选与重组，配置于用户侧储能系统，并给出健康度在线评估方法。",
		"比亚迪股份有限公司", "石磊", "H01M 10/0525", "CN"},
	{"2024-06-14", "", "CN202410629871.5",
		"一种钠离子电池储能模组",
		"本实用新型针对钠离子电池体积膨胀特性设计缓冲支架与汇流排布局，提高储能模组能量密度与装配效率。",
		"宁德时代新能源科技股份有限公司", "袁芳", "H01M 10/054", "CN"},
	{"2025-05-16", "", "KR10-2025-0158392",
		"风光储一体化电站的容量配置方法",
		"本发明综合风电与光伏出力互补特性，以弃电率和投资回收期为约束求解储能容量配置，输出分期建设方案。",
		"LG新能源", "朴志勋", "H01M 50/244", "KR"},
}

// demoSources returns the built-in corpus split across two named sources, so
// offline runs still exercise source merging, authority ranking and dedup.
func demoSources() map[string][]search.Record {
	cnki := make([]search.Record, 0, len(cnkiCorpus))
	for _, d := range cnkiCorpus {
		cnki = append(cnki, d.record())
	}
	web := make([]search.Record, 0, len(webCorpus))
	for _, d := range webCorpus {
		web = append(web, d.record())
	}
	return map[string][]search.Record{
		search.SourceCNKI: cnki,
		search.SourceWeb:  web,
	}
}
