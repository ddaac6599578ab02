package main

import "fmt"

const (
	// bindingName is the runtime binding the page script reports through
	bindingName = "__xltRecorderEmit"
	// recorderGlobal is the window property exposing the page recorder
	recorderGlobal = "__xltRecorder"
)

// recorderScript returns the script installed into every new document.
// It dumps the platform timing data on load, before unload and when the
// resource timing buffer runs full, and answers timing data requests.
func recorderScript() string {
	return fmt.Sprintf(recorderScriptTemplate,
		contentCommunicationID, backgroundCommunicationID, externalCommunicationID,
		bindingName, recorderGlobal)
}

const recorderScriptTemplate = `(() => {
	if (window !== window.top || window.__xltRecorderInstalled) {
		return;
	}
	window.__xltRecorderInstalled = true;

	const contentID = "%s";
	const backgroundID = "%s";
	const externalID = "%s";
	const emit = window["%s"];
	const url = window.location.href;
	const webVitals = [];

	const message = (data, value) => {
		const msg = { communicationID: contentID, data: data };
		if (value !== undefined) {
			msg.value = value;
		}
		return msg;
	};

	const send = (data, value) => {
		try {
			emit(JSON.stringify(message(data, value)));
		} catch (e) {}
	};

	const toEntry = (e) => ({
		name: e.name,
		entryType: e.entryType,
		fetchStart: e.fetchStart || 0,
		domainLookupStart: e.domainLookupStart || 0,
		domainLookupEnd: e.domainLookupEnd || 0,
		connectStart: e.connectStart || 0,
		connectEnd: e.connectEnd || 0,
		requestStart: e.requestStart || 0,
		responseStart: e.responseStart || 0,
		responseEnd: e.responseEnd || 0,
		transferSize: e.transferSize || 0
	});

	// resource entries are drained, the navigation entry is reported every time
	const entries = () => {
		const list = performance.getEntriesByType("navigation").map(toEntry);
		performance.getEntriesByType("resource").forEach((e) => list.push(toEntry(e)));
		performance.clearResourceTimings();
		return list;
	};

	const milestones = () => {
		const t = performance.timing;
		return {
			domComplete: t.domComplete,
			domContentLoadedEventEnd: t.domContentLoadedEventEnd,
			domContentLoadedEventStart: t.domContentLoadedEventStart,
			domInteractive: t.domInteractive,
			domLoading: t.domLoading,
			loadEventEnd: t.loadEventEnd,
			loadEventStart: t.loadEventStart
		};
	};

	const timingData = (includeEventTimings) => {
		const data = {
			url: url,
			navigationStart: performance.timing.navigationStart,
			includeEventTimings: includeEventTimings,
			entries: entries()
		};
		if (includeEventTimings) {
			const paint = performance.getEntriesByType("paint");
			data.timing = milestones();
			data.paintSupported = typeof PerformancePaintTiming !== "undefined";
			data.paint = paint.map((p) => ({ name: p.name, startTime: p.startTime }));
			const loadTimes = window.chrome && window.chrome.loadTimes ? window.chrome.loadTimes() : null;
			data.firstPaintTime = loadTimes && loadTimes.firstPaintTime ? loadTimes.firstPaintTime * 1000 : 0;
			data.webVitals = webVitals.slice();
		}
		return { timingData: data };
	};

	const addVital = (name, value) => {
		webVitals.push({ time: Date.now(), name: name, value: value });
	};

	const observe = (type, callback, options) => {
		try {
			new PerformanceObserver((list) => list.getEntries().forEach(callback))
				.observe(Object.assign({ type: type, buffered: true }, options || {}));
		} catch (e) {}
	};

	let cls = 0;
	observe("layout-shift", (e) => {
		if (!e.hadRecentInput) {
			cls += e.value;
			addVital("CLS", cls);
		}
	});
	observe("paint", (e) => {
		if (e.name === "first-contentful-paint") {
			addVital("FCP", e.startTime);
		}
	});
	observe("first-input", (e) => addVital("FID", e.processingStart - e.startTime));
	let inp = 0;
	observe("event", (e) => {
		if (e.interactionId && e.duration > inp) {
			inp = e.duration;
			addVital("INP", inp);
		}
	}, { durationThreshold: 40 });
	observe("largest-contentful-paint", (e) => addVital("LCP", e.startTime));
	observe("navigation", (e) => addVital("TTFB", e.responseStart));

	window["%s"] = {
		onMessage: (msg) => {
			if (msg && msg.communicationID === backgroundID && msg.data === "getTimingData") {
				return JSON.stringify(message(timingData(true)));
			}
			return "";
		}
	};

	window.addEventListener("message", (event) => {
		if (!event || event.source !== window || !event.data || event.data.communicationID !== externalID) {
			return;
		}
		// external messages carry no commands yet
	});

	performance.addEventListener("resourcetimingbufferfull", () => {
		send("eventResourceTimingBufferFull", timingData(false));
	});
	window.addEventListener("beforeunload", () => {
		send("eventBeforeUnload", timingData(true));
	});
	window.addEventListener("load", () => {
		send("eventLoad");
	});
})();`
